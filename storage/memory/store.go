package memory

import (
	"errors"
	"sync"

	"watchparty/model"
)

var (
	ErrUserNotFound    = errors.New("user is not found")
	ErrSessionNotFound = errors.New("session is not found")
)

// MemStore holds the user and session registries. All session and user
// state lives here for the lifetime of the process; nothing is persisted.
type MemStore struct {
	mx       *sync.RWMutex
	users    map[string]*model.User
	sessions map[string]*model.Session
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:       &sync.RWMutex{},
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
	}
}

func (ms *MemStore) PutUser(user *model.User) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.users[user.ID] = user
}

func (ms *MemStore) User(id string) (*model.User, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	user, ok := ms.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Users resolves a member id list to user entries, skipping unknown ids.
func (ms *MemStore) Users(ids []string) map[string]*model.User {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if user, ok := ms.users[id]; ok {
			out[id] = user
		}
	}
	return out
}

func (ms *MemStore) PutSession(session *model.Session) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.sessions[session.ID] = session
}

func (ms *MemStore) Session(id string) (*model.Session, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	session, ok := ms.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (ms *MemStore) HasSession(id string) bool {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	_, ok := ms.sessions[id]
	return ok
}

func (ms *MemStore) DeleteSession(id string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	delete(ms.sessions, id)
}

// Counts returns current registry sizes for the stats endpoint.
func (ms *MemStore) Counts() (users int, sessions int) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	return len(ms.users), len(ms.sessions)
}
