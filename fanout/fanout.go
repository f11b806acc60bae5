package fanout

import (
	"sync"

	"github.com/rs/zerolog"

	"watchparty/model"
)

// Fanout keeps the outbound wire of every connected client and delivers
// events to session members. Delivery is best-effort and non-blocking:
// an event that does not fit into a wire's buffer is dropped, never
// confirmed, never retried.
type Fanout struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
}

func NewFanout(logger *zerolog.Logger) *Fanout {
	return &Fanout{
		logger: logger.With().Str("component", "fanout").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
	}
}

func (f *Fanout) Connect(userID string, wire model.Wire) {
	f.mx.Lock()
	defer func() {
		f.mx.Unlock()
		f.logger.Debug().
			Str("userID", userID).
			Msg("wire connected")
	}()

	f.wires[userID] = wire
}

func (f *Fanout) Disconnect(userID string) {
	f.mx.Lock()
	defer func() {
		f.mx.Unlock()
		f.logger.Debug().
			Str("userID", userID).
			Msg("wire disconnected")
	}()

	delete(f.wires, userID)
}

// Send delivers a single event to one user. Returns false if the user
// has no wire or the wire's buffer is full.
func (f *Fanout) Send(userID string, ev model.Event) bool {
	f.mx.RLock()
	wire, ok := f.wires[userID]
	f.mx.RUnlock()

	if !ok {
		f.logger.Debug().
			Str("userID", userID).
			Str("type", ev.Type).
			Msg("cannot send, wire not found")
		return false
	}

	select {
	case wire.TX <- ev:
		return true
	default:
		f.logger.Error().
			Str("userID", userID).
			Str("type", ev.Type).
			Msg("wire buffer full, event dropped")
		return false
	}
}

// Broadcast delivers an event to every listed member except src.
func (f *Fanout) Broadcast(ev model.Event, members []string, src string) {
	var sent bool
	for _, dst := range members {
		if dst == src {
			continue
		}
		if f.Send(dst, ev) {
			sent = true
		}
	}
	if !sent {
		f.logger.Debug().
			Str("type", ev.Type).
			Str("src", src).
			Msg("broadcast did not reach anyone")
	}
}
