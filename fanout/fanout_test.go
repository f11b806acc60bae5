package fanout

import (
	"testing"

	"github.com/rs/zerolog"

	"watchparty/model"
)

func newTestFanout() *Fanout {
	logger := zerolog.Nop()
	return NewFanout(&logger)
}

func drain(wire model.Wire) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-wire.TX:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSend(t *testing.T) {
	f := newTestFanout()
	wire := model.NewWire()
	f.Connect("u1", wire)

	if !f.Send("u1", model.Event{Type: "typing"}) {
		t.Fatalf("Send: delivery to a connected wire failed")
	}
	got := drain(wire)
	if len(got) != 1 || got[0].Type != "typing" {
		t.Fatalf("Send: unexpected events: %+v", got)
	}

	if f.Send("unknown", model.Event{Type: "typing"}) {
		t.Fatalf("Send: delivery to an unknown wire succeeded")
	}

	f.Disconnect("u1")
	if f.Send("u1", model.Event{Type: "typing"}) {
		t.Fatalf("Send: delivery to a disconnected wire succeeded")
	}
}

func TestSendFullBufferDropsEvent(t *testing.T) {
	f := newTestFanout()
	wire := model.Wire{TX: make(chan model.Event, 1)}
	f.Connect("u1", wire)

	if !f.Send("u1", model.Event{Type: "first"}) {
		t.Fatalf("Send: first event failed")
	}
	// Buffer is full now; the send must not block, just drop.
	if f.Send("u1", model.Event{Type: "second"}) {
		t.Fatalf("Send: event delivered into a full buffer")
	}
	got := drain(wire)
	if len(got) != 1 || got[0].Type != "first" {
		t.Fatalf("Send: unexpected events after drop: %+v", got)
	}
}

func TestBroadcastExcludesSource(t *testing.T) {
	f := newTestFanout()
	wires := map[string]model.Wire{
		"u1": model.NewWire(),
		"u2": model.NewWire(),
		"u3": model.NewWire(),
	}
	for id, wire := range wires {
		f.Connect(id, wire)
	}

	f.Broadcast(model.Event{Type: "sendMessage"}, []string{"u1", "u2", "u3"}, "u2")

	if got := drain(wires["u1"]); len(got) != 1 {
		t.Fatalf("Broadcast: u1 expected one event, got %d", len(got))
	}
	if got := drain(wires["u2"]); len(got) != 0 {
		t.Fatalf("Broadcast: source received its own broadcast")
	}
	if got := drain(wires["u3"]); len(got) != 1 {
		t.Fatalf("Broadcast: u3 expected one event, got %d", len(got))
	}
}

func TestBroadcastEmptySourceReachesEveryone(t *testing.T) {
	f := newTestFanout()
	w1, w2 := model.NewWire(), model.NewWire()
	f.Connect("u1", w1)
	f.Connect("u2", w2)

	f.Broadcast(model.Event{Type: "likeMessage"}, []string{"u1", "u2"}, "")

	if got := drain(w1); len(got) != 1 {
		t.Fatalf("Broadcast: u1 expected one event, got %d", len(got))
	}
	if got := drain(w2); len(got) != 1 {
		t.Fatalf("Broadcast: u2 expected one event, got %d", len(got))
	}
}
