package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"watchparty/identity"
	"watchparty/metrics"
	"watchparty/model"
)

var (
	ErrIdentity = errors.New("identity provider failure")
)

type (
	// Store holds the user and session registries.
	Store interface {
		PutUser(user *model.User)
		User(id string) (*model.User, error)
		Users(ids []string) map[string]*model.User
		PutSession(session *model.Session)
		Session(id string) (*model.Session, error)
		HasSession(id string) bool
		DeleteSession(id string)
		Counts() (users int, sessions int)
	}

	// Broadcaster fans events out to connected clients.
	Broadcaster interface {
		Connect(userID string, wire model.Wire)
		Disconnect(userID string)
		Send(userID string, ev model.Event) bool
		Broadcast(ev model.Event, members []string, src string)
	}

	// Engine owns all session and user state. Every command runs to
	// completion under one mutex, so handlers never observe each
	// other's partial mutations. Every payload that is returned or
	// broadcast is a snapshot cloned while the mutex is held; the
	// transport marshals events after the lock is gone.
	Engine struct {
		mx       *sync.Mutex
		store    Store
		identity identity.Provider
		fanout   Broadcaster
		logger   zerolog.Logger
		now      func() time.Time
		newToken func() string
		conns    map[string]*conn
	}

	Config struct {
		Store    Store
		Identity identity.Provider
		Fanout   Broadcaster
		Logger   *zerolog.Logger

		// Now and NewToken are overridable for tests.
		Now      func() time.Time
		NewToken func() string
	}

	// conn tracks the live connection of a user. The generation guards
	// against a stale connection tearing down its successor after a
	// takeover.
	conn struct {
		gen    int64
		closer func()
	}
)

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		mx:       &sync.Mutex{},
		store:    cfg.Store,
		identity: cfg.Identity,
		fanout:   cfg.Fanout,
		logger:   cfg.Logger.With().Str("component", "engine").Logger(),
		now:      cfg.Now,
		newToken: cfg.NewToken,
		conns:    make(map[string]*conn),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newToken == nil {
		e.newToken = randomHash64
	}
	return e
}

const hexChars = "0123456789abcdef"

// randomHash64 generates a random token with 64 bits of entropy,
// 16 lowercase hex characters.
func randomHash64() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = hexChars[rand.IntN(16)]
	}
	return string(b)
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

// ServerTime returns the current server clock in epoch milliseconds so
// clients can estimate their clock offset.
func (e *Engine) ServerTime() int64 {
	return e.nowMillis()
}

type InitPayload struct {
	User *model.User `json:"user"`
}

// Connect authenticates an incoming connection and registers the user.
// With incognito a fresh ephemeral identity is minted, otherwise both
// userID and token must match the identity provider's records. If the
// same identity already has a live connection, the old one is ended
// before the new one is admitted.
//
// closer must tear down the new connection's transport; it is invoked
// if this identity connects again. The returned generation must be
// passed to Disconnected.
func (e *Engine) Connect(ctx context.Context, userID, token string, incognito bool, wire model.Wire, closer func()) (*model.User, int64, error) {
	var profile *identity.Profile

	// Identity provider calls happen before the registries are touched,
	// outside the engine lock.
	if incognito {
		p, err := e.identity.CreateIdentity(ctx, "")
		if err != nil {
			return nil, 0, errors.Join(ErrIdentity, err)
		}
		profile = p
	} else {
		if userID == "" || token == "" {
			return nil, 0, &AuthError{Reason: ReasonMissingCredentials}
		}
		stored, err := e.identity.VerifyToken(ctx, userID)
		if errors.Is(err, identity.ErrUnknownUser) {
			return nil, 0, &AuthError{Reason: ReasonInvalidUser}
		}
		if err != nil {
			return nil, 0, errors.Join(ErrIdentity, err)
		}
		if stored != token {
			return nil, 0, &AuthError{Reason: ReasonInvalidToken}
		}
		p, err := e.identity.Lookup(ctx, userID)
		if err != nil {
			return nil, 0, errors.Join(ErrIdentity, err)
		}
		profile = p
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	// One live connection per identity: end the old one first so two
	// channels never both carry session traffic for the same user.
	if old, ok := e.conns[profile.ID]; ok {
		e.logger.Warn().
			Str("userID", profile.ID).
			Msg("connection takeover, closing previous connection")
		if old.closer != nil {
			old.closer()
		}
		e.disconnectLocked(profile.ID)
		metrics.Connections.Dec()
	}

	user, err := e.store.User(profile.ID)
	if err != nil {
		user = &model.User{ID: profile.ID}
	}
	user.Name = profile.Name
	user.Icon = profile.Icon
	user.Active = true
	user.Typing = false
	user.Buffering = false
	e.store.PutUser(user)

	gen := int64(1)
	if old, ok := e.conns[profile.ID]; ok {
		gen = old.gen + 1
	}
	e.conns[profile.ID] = &conn{gen: gen, closer: closer}

	e.fanout.Connect(profile.ID, wire)
	e.fanout.Send(profile.ID, model.Event{
		Type: model.EventInit,
		Data: InitPayload{User: user.Clone()},
	})

	metrics.Connections.Inc()
	e.updateGauges()

	e.logger.Debug().
		Str("userID", profile.ID).
		Bool("incognito", incognito).
		Msg("connection admitted")
	return user.Clone(), gen, nil
}

// Disconnected transitions a user to inactive and leaves their session.
// The user registry entry itself is retained so the same identity can
// reconnect later. Stale generations (a connection that was already
// taken over) are ignored.
func (e *Engine) Disconnected(userID string, gen int64) {
	e.mx.Lock()
	defer e.mx.Unlock()

	c, ok := e.conns[userID]
	if !ok || c.gen != gen {
		return
	}
	delete(e.conns, userID)
	metrics.Connections.Dec()

	e.disconnectLocked(userID)
	e.updateGauges()

	e.logger.Debug().
		Str("userID", userID).
		Msg("user disconnected")
}

func (e *Engine) disconnectLocked(userID string) {
	user, err := e.store.User(userID)
	if err != nil {
		return
	}
	user.Active = false
	user.Typing = false
	user.Buffering = false
	e.leaveSessionLocked(user)
	e.fanout.Disconnect(userID)
}

// appendSystemMessage adds a server-authored chat entry describing an
// event, attributed to the user who caused it.
func (e *Engine) appendSystemMessage(sess *model.Session, userID, content string) *model.Message {
	msg := &model.Message{
		ID:          e.newMessageID(sess),
		UserID:      userID,
		Content:     content,
		IsSystemMsg: true,
		CreatedAt:   e.nowMillis(),
		Likes:       make(map[string]model.Like),
	}
	sess.Messages[msg.ID] = msg
	return msg
}

// newMessageID generates a message id unique within the session,
// regenerating on collision.
func (e *Engine) newMessageID(sess *model.Session) string {
	for {
		id := e.newToken()
		if _, exists := sess.Messages[id]; !exists {
			return id
		}
	}
}

// activeMembers returns the ids of session members that are currently
// connected.
func (e *Engine) activeMembers(sess *model.Session) []string {
	out := make([]string, 0, len(sess.Users))
	for id, user := range e.store.Users(sess.Users) {
		if user.Active {
			out = append(out, id)
		}
	}
	return out
}

// broadcast fans an event out to all active session members except src.
// Pass an empty src to include everyone.
func (e *Engine) broadcast(sess *model.Session, evType string, data any, src string) {
	e.fanout.Broadcast(model.Event{Type: evType, Data: data}, e.activeMembers(sess), src)
}

func (e *Engine) updateGauges() {
	users, sessions := e.store.Counts()
	metrics.Users.Set(float64(users))
	metrics.Sessions.Set(float64(sessions))
}
