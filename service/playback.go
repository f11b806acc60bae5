package service

import (
	"fmt"

	"watchparty/model"
)

// timeJumpThreshold is how far a reported position may stray from the
// extrapolated one before the room is told about it. Absorbs normal
// network and buffering drift so routine reports don't spam the chat.
const timeJumpThreshold = 2500 // milliseconds

type PlaybackUpdate struct {
	Position          int64               `json:"position"`          // milliseconds
	PositionUpdatedAt int64               `json:"positionUpdatedAt"` // epoch milliseconds
	State             model.PlaybackState `json:"state"`
	Buffering         *bool               `json:"buffering,omitempty"`
}

type SessionUpdate struct {
	UserID            string              `json:"userId"`
	Position          int64               `json:"position"`
	PositionUpdatedAt int64               `json:"positionUpdatedAt"`
	State             model.PlaybackState `json:"state"`
	Buffering         *bool               `json:"buffering,omitempty"`
	Message           *model.Message      `json:"message,omitempty"`
}

type BufferingBroadcast struct {
	UserID    string `json:"userId"`
	Buffering bool   `json:"buffering"`
}

type VideoChange struct {
	UserID  string         `json:"userId"`
	VideoID int            `json:"videoId"`
	Message *model.Message `json:"message,omitempty"`
}

// UpdateSession reconciles a client's reported playback state with the
// session's ground truth. Clients can't share a perfectly synchronized
// clock, so the most recent report wins; a system message is generated
// only when the state flips or the position jumps further than the
// debounce threshold.
func (e *Engine) UpdateSession(userID string, update PlaybackUpdate) (*SessionUpdate, error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	if user.SessionID == "" {
		return nil, &ValidationError{Reason: ReasonNotInSession}
	}
	sess, err := e.store.Session(user.SessionID)
	if err != nil {
		return nil, &NotFoundError{Reason: ReasonSessionNotFound}
	}
	if !update.State.Valid() {
		return nil, &ValidationError{Reason: ReasonInvalidPlayback}
	}
	if update.Position < 0 {
		return nil, &ValidationError{Reason: ReasonInvalidPosition}
	}

	// Buffering is informational, not authoritative playback state:
	// it is applied and broadcast regardless of the control lock.
	if update.Buffering != nil {
		user.Buffering = *update.Buffering
		e.broadcast(sess, model.EventBuffering,
			BufferingBroadcast{UserID: userID, Buffering: user.Buffering}, userID)
	}

	if sess.OwnerID != "" && sess.OwnerID != userID {
		return nil, ErrControlLock
	}

	now := e.nowMillis()
	oldPredicted := predictPosition(sess.Position, sess.PositionUpdatedAt, sess.State, now)
	newPredicted := predictPosition(update.Position, update.PositionUpdatedAt, update.State, now)

	stateChanged := sess.State != update.State
	jump := newPredicted - oldPredicted
	if jump < 0 {
		jump = -jump
	}
	timeJumped := jump > timeJumpThreshold

	var msg *model.Message
	switch {
	case stateChanged && timeJumped:
		verb := "paused the video at "
		if update.State == model.StatePlaying {
			verb = "started playing the video at "
		}
		msg = e.appendSystemMessage(sess, userID, verb+formatTimestamp(newPredicted))
	case stateChanged:
		content := "paused the video"
		if update.State == model.StatePlaying {
			content = "started playing the video"
		}
		msg = e.appendSystemMessage(sess, userID, content)
	case timeJumped:
		msg = e.appendSystemMessage(sess, userID, "jumped to "+formatTimestamp(newPredicted))
	}

	// The raw reported values become the new ground truth, not the
	// extrapolated figure.
	sess.State = update.State
	sess.Position = update.Position
	sess.PositionUpdatedAt = update.PositionUpdatedAt

	if msg != nil {
		msg = msg.Clone()
	}
	out := &SessionUpdate{
		UserID:            userID,
		Position:          sess.Position,
		PositionUpdatedAt: sess.PositionUpdatedAt,
		State:             sess.State,
		Buffering:         update.Buffering,
		Message:           msg,
	}
	e.broadcast(sess, model.EventUpdateSession, out, userID)
	return out, nil
}

// predictPosition extrapolates a reported position forward by elapsed
// wall-clock time while playing; a paused position is frozen.
func predictPosition(position, updatedAt int64, state model.PlaybackState, now int64) int64 {
	if state == model.StatePlaying {
		return position + (now - updatedAt)
	}
	return position
}

// formatTimestamp renders a playback offset for chat messages, hours
// omitted when zero: "1:05:09", "4:20", "0:07".
func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ChangeVideoID switches the session to another video, typically the
// next episode. Owner-gated like playback updates; a no-op when the
// video is unchanged.
func (e *Engine) ChangeVideoID(userID string, videoID int) (*VideoChange, error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	if user.SessionID == "" {
		return nil, &ValidationError{Reason: ReasonNotInSession}
	}
	sess, err := e.store.Session(user.SessionID)
	if err != nil {
		return nil, &NotFoundError{Reason: ReasonSessionNotFound}
	}
	if videoID < 0 {
		return nil, &ValidationError{Reason: ReasonInvalidVideoID}
	}
	if sess.OwnerID != "" && sess.OwnerID != userID {
		return nil, ErrControlLock
	}
	if sess.VideoID == videoID {
		return &VideoChange{UserID: userID, VideoID: videoID}, nil
	}

	sess.VideoID = videoID
	msg := e.appendSystemMessage(sess, userID, "started the next episode")

	out := &VideoChange{UserID: userID, VideoID: videoID, Message: msg.Clone()}
	e.broadcast(sess, model.EventChangeVideoID, out, userID)
	return out, nil
}

// Buffering reports a member's buffering state without a playback
// candidate. Never owner-gated.
func (e *Engine) Buffering(userID string, buffering bool) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return &ValidationError{Reason: ReasonUnknownUser}
	}
	if user.SessionID == "" {
		return &ValidationError{Reason: ReasonNotInSession}
	}
	sess, err := e.store.Session(user.SessionID)
	if err != nil {
		return &NotFoundError{Reason: ReasonSessionNotFound}
	}

	user.Buffering = buffering
	e.broadcast(sess, model.EventBuffering,
		BufferingBroadcast{UserID: userID, Buffering: buffering}, userID)
	return nil
}
