package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	ErrUnknownUser = errors.New("unknown user")
)

// Profile is a durable user record. Token is the user's auth secret and
// must never be sent to anyone but the user it belongs to.
type Profile struct {
	ID    string
	Name  string
	Icon  string
	Token string
}

// Provider is the durable identity backend. Calls may fail and may
// complete in arbitrary order relative to other connections' lookups.
type Provider interface {
	// VerifyToken returns the stored auth token for userID,
	// or ErrUnknownUser.
	VerifyToken(ctx context.Context, userID string) (string, error)

	// Lookup returns the durable record for an existing user.
	Lookup(ctx context.Context, userID string) (*Profile, error)

	// CreateIdentity mints a new user record. An empty displayName lets
	// the provider pick one.
	CreateIdentity(ctx context.Context, displayName string) (*Profile, error)

	UpdateDisplayName(ctx context.Context, id string, name string) error
	UpdateIcon(ctx context.Context, id string, icon string) error
}

// NewToken generates an auth token with 64 bits of entropy,
// 16 lowercase hex characters.
func NewToken() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("identity: token: %w", err)
	}
	return fmt.Sprintf("%016x", b), nil
}
