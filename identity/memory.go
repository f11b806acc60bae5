package identity

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"watchparty/model"
)

// MemProvider is an in-memory Provider. Identities live as long as the
// process does; suitable for development and incognito-only deployments.
type MemProvider struct {
	mx       *sync.Mutex
	nextID   int64
	profiles map[string]*Profile
}

func NewMemProvider() *MemProvider {
	return &MemProvider{
		mx:       &sync.Mutex{},
		nextID:   1,
		profiles: make(map[string]*Profile),
	}
}

func (mp *MemProvider) VerifyToken(_ context.Context, userID string) (string, error) {
	mp.mx.Lock()
	defer mp.mx.Unlock()

	profile, ok := mp.profiles[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return profile.Token, nil
}

func (mp *MemProvider) Lookup(_ context.Context, userID string) (*Profile, error) {
	mp.mx.Lock()
	defer mp.mx.Unlock()

	profile, ok := mp.profiles[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	cp := *profile
	return &cp, nil
}

func (mp *MemProvider) CreateIdentity(_ context.Context, displayName string) (*Profile, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	mp.mx.Lock()
	defer mp.mx.Unlock()

	id := strconv.FormatInt(mp.nextID, 10)
	mp.nextID++

	if displayName == "" {
		displayName = fmt.Sprintf("guest-%04x", rand.Intn(0x10000))
	}
	profile := &Profile{
		ID:    id,
		Name:  displayName,
		Icon:  model.IconNames[rand.Intn(len(model.IconNames))],
		Token: token,
	}
	mp.profiles[id] = profile
	return profile, nil
}

func (mp *MemProvider) UpdateDisplayName(_ context.Context, id string, name string) error {
	mp.mx.Lock()
	defer mp.mx.Unlock()

	profile, ok := mp.profiles[id]
	if !ok {
		return ErrUnknownUser
	}
	profile.Name = name
	return nil
}

func (mp *MemProvider) UpdateIcon(_ context.Context, id string, icon string) error {
	mp.mx.Lock()
	defer mp.mx.Unlock()

	profile, ok := mp.profiles[id]
	if !ok {
		return ErrUnknownUser
	}
	profile.Icon = icon
	return nil
}
