package service

import "errors"

// Authentication failure reasons, sent to the client before the
// connection is closed.
const (
	ReasonMissingCredentials = "missing-credentials"
	ReasonInvalidUser        = "invalid-user"
	ReasonInvalidToken       = "invalid-token"
)

// Command validation failure reasons, returned in command acks.
const (
	ReasonUnknownUser        = "unknown-user"
	ReasonUnsupportedService = "unsupported-video-service"
	ReasonInvalidVideoID     = "invalid-video-id"
	ReasonInvalidPlayback    = "invalid-playback-state"
	ReasonInvalidPosition    = "invalid-position"
	ReasonEmptyMessage       = "empty-message"
	ReasonEmptyName          = "empty-name"
	ReasonUnknownIcon        = "unknown-icon"
	ReasonNotInSession       = "not-in-session"
	ReasonVideoMismatch      = "video-mismatch"
	ReasonControlLock        = "control-lock"
	ReasonSessionNotFound    = "session-not-found"
	ReasonMessageNotFound    = "message-not-found"
)

// AuthError rejects a connection during the handshake. No commands are
// ever dispatched for a rejected connection.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError rejects a single command, leaving all state unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid command: " + e.Reason
}

// NotFoundError references an already-deleted session or message.
// Fire-and-forget commands log and drop it, request/ack commands
// surface it in the ack.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Reason
}

// ErrControlLock rejects an owner-gated mutation from a non-owner.
var ErrControlLock = errors.New(ReasonControlLock)

// Reason maps an engine error to its machine-readable reason for acks.
func Reason(err error) string {
	var (
		authErr       *AuthError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &authErr):
		return authErr.Reason
	case errors.As(err, &validationErr):
		return validationErr.Reason
	case errors.As(err, &notFoundErr):
		return notFoundErr.Reason
	case errors.Is(err, ErrControlLock):
		return ReasonControlLock
	}
	return "internal"
}
