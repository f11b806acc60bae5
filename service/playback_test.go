package service

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"watchparty/model"
)

// setGroundTruth overwrites the session's stored playback state as if a
// previous report had established it.
func setGroundTruth(sess *model.Session, position int64, state model.PlaybackState, at int64) {
	sess.Position = position
	sess.State = state
	sess.PositionUpdatedAt = at
}

func TestUpdateSessionDriftWithinDebounce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")
	sess := env.createSession(t, alice.ID, false)
	env.join(t, bob.ID, sess.ID)
	env.fan.reset()

	t0 := env.now.UnixMilli()
	setGroundTruth(sess, 10_000, model.StatePlaying, t0)
	env.advance(3 * time.Second)
	t1 := env.now.UnixMilli()

	// 13200ms reported vs 13000ms predicted: 200ms drift, no message.
	out, err := env.engine.UpdateSession(alice.ID, PlaybackUpdate{
		Position:          13_200,
		PositionUpdatedAt: t1,
		State:             model.StatePlaying,
	})
	if err != nil {
		t.Fatalf("UpdateSession: unexpected error: %v", err)
	}
	if out.Message != nil {
		t.Fatalf("UpdateSession: drift within debounce produced a message: %s", spew.Sdump(out))
	}

	// Raw reported values became the ground truth.
	if sess.Position != 13_200 || sess.PositionUpdatedAt != t1 || sess.State != model.StatePlaying {
		t.Fatalf("UpdateSession: ground truth mismatch: %s", spew.Sdump(sess))
	}

	// Other members still hear about it.
	if got := env.fan.events(bob.ID, model.EventUpdateSession); len(got) != 1 {
		t.Fatalf("UpdateSession: expected one updateSession event for bob, got %d", len(got))
	}
	if got := env.fan.events(alice.ID, model.EventUpdateSession); len(got) != 0 {
		t.Fatalf("UpdateSession: reporter received their own update event")
	}
}

func TestUpdateSessionTimeJump(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	sess := env.createSession(t, alice.ID, false)

	t0 := env.now.UnixMilli()
	setGroundTruth(sess, 10_000, model.StatePlaying, t0)
	env.advance(3 * time.Second)
	t1 := env.now.UnixMilli()

	// 20000ms reported vs 13000ms predicted: well past the debounce.
	out, err := env.engine.UpdateSession(alice.ID, PlaybackUpdate{
		Position:          20_000,
		PositionUpdatedAt: t1,
		State:             model.StatePlaying,
	})
	if err != nil {
		t.Fatalf("UpdateSession: unexpected error: %v", err)
	}
	if out.Message == nil {
		t.Fatalf("UpdateSession: expected a time jump message")
	}
	if out.Message.Content != "jumped to 0:20" {
		t.Fatalf("UpdateSession: message mismatch want=%q got=%q", "jumped to 0:20", out.Message.Content)
	}
	if !out.Message.IsSystemMsg {
		t.Fatalf("UpdateSession: jump message not marked system generated")
	}
}

func TestUpdateSessionStateChange(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	sess := env.createSession(t, alice.ID, false)

	t0 := env.now.UnixMilli()
	setGroundTruth(sess, 10_000, model.StatePaused, t0)

	// Resume at the stored position: state-only message.
	out, err := env.engine.UpdateSession(alice.ID, PlaybackUpdate{
		Position:          10_000,
		PositionUpdatedAt: t0,
		State:             model.StatePlaying,
	})
	if err != nil {
		t.Fatalf("UpdateSession: unexpected error: %v", err)
	}
	if out.Message == nil || out.Message.Content != "started playing the video" {
		t.Fatalf("UpdateSession: message mismatch: %s", spew.Sdump(out.Message))
	}

	// Pause somewhere else entirely: state+jump message with timestamp.
	out, err = env.engine.UpdateSession(alice.ID, PlaybackUpdate{
		Position:          3_725_000, // 1:02:05
		PositionUpdatedAt: env.now.UnixMilli(),
		State:             model.StatePaused,
	})
	if err != nil {
		t.Fatalf("UpdateSession: unexpected error: %v", err)
	}
	if out.Message == nil || out.Message.Content != "paused the video at 1:02:05" {
		t.Fatalf("UpdateSession: message mismatch: %s", spew.Sdump(out.Message))
	}
}

func TestUpdateSessionControlLock(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")
	sess := env.createSession(t, alice.ID, true)
	env.join(t, bob.ID, sess.ID)

	before := *sess
	_, err := env.engine.UpdateSession(bob.ID, PlaybackUpdate{
		Position:          60_000,
		PositionUpdatedAt: env.now.UnixMilli(),
		State:             model.StatePlaying,
	})
	if got := Reason(err); got != ReasonControlLock {
		t.Fatalf("UpdateSession: reason mismatch want=%s got=%s", ReasonControlLock, got)
	}
	if sess.Position != before.Position || sess.State != before.State || sess.PositionUpdatedAt != before.PositionUpdatedAt {
		t.Fatalf("UpdateSession: rejected update mutated playback state")
	}

	// The owner is not gated.
	if _, err = env.engine.UpdateSession(alice.ID, PlaybackUpdate{
		Position:          60_000,
		PositionUpdatedAt: env.now.UnixMilli(),
		State:             model.StatePlaying,
	}); err != nil {
		t.Fatalf("UpdateSession: owner update rejected: %v", err)
	}
}

func TestUpdateSessionBufferingBypassesLock(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")
	sess := env.createSession(t, alice.ID, true)
	env.join(t, bob.ID, sess.ID)
	env.fan.reset()

	buffering := true
	_, err := env.engine.UpdateSession(bob.ID, PlaybackUpdate{
		Position:          60_000,
		PositionUpdatedAt: env.now.UnixMilli(),
		State:             model.StatePlaying,
		Buffering:         &buffering,
	})
	if got := Reason(err); got != ReasonControlLock {
		t.Fatalf("UpdateSession: reason mismatch want=%s got=%s", ReasonControlLock, got)
	}

	// The buffering flag was still applied and broadcast.
	if !bob.Buffering {
		t.Fatalf("UpdateSession: buffering flag not applied under control lock")
	}
	if got := env.fan.events(alice.ID, model.EventBuffering); len(got) != 1 {
		t.Fatalf("UpdateSession: expected one buffering event for alice, got %d", len(got))
	}
}

func TestBuffering(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")
	sess := env.createSession(t, alice.ID, true)
	env.join(t, bob.ID, sess.ID)
	env.fan.reset()

	// Standalone buffering reports are never owner-gated.
	if err := env.engine.Buffering(bob.ID, true); err != nil {
		t.Fatalf("Buffering: unexpected error: %v", err)
	}
	if !bob.Buffering {
		t.Fatalf("Buffering: flag not applied")
	}
	if got := env.fan.events(alice.ID, model.EventBuffering); len(got) != 1 {
		t.Fatalf("Buffering: expected one buffering event for alice, got %d", len(got))
	}
	if got := env.fan.events(bob.ID, model.EventBuffering); len(got) != 0 {
		t.Fatalf("Buffering: reporter received their own buffering event")
	}
}

func TestChangeVideoID(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")
	sess := env.createSession(t, alice.ID, true)
	env.join(t, bob.ID, sess.ID)
	env.fan.reset()

	// Owner-gated identically to playback updates.
	_, err := env.engine.ChangeVideoID(bob.ID, 81235)
	if got := Reason(err); got != ReasonControlLock {
		t.Fatalf("ChangeVideoID: reason mismatch want=%s got=%s", ReasonControlLock, got)
	}

	// No-op when unchanged.
	out, err := env.engine.ChangeVideoID(alice.ID, sess.VideoID)
	if err != nil {
		t.Fatalf("ChangeVideoID: unexpected error: %v", err)
	}
	if out.Message != nil {
		t.Fatalf("ChangeVideoID: no-op produced a message")
	}
	if got := env.fan.events(bob.ID, model.EventChangeVideoID); len(got) != 0 {
		t.Fatalf("ChangeVideoID: no-op was broadcast")
	}

	out, err = env.engine.ChangeVideoID(alice.ID, 81235)
	if err != nil {
		t.Fatalf("ChangeVideoID: unexpected error: %v", err)
	}
	if sess.VideoID != 81235 {
		t.Fatalf("ChangeVideoID: video id not updated")
	}
	if out.Message == nil || out.Message.Content != "started the next episode" {
		t.Fatalf("ChangeVideoID: message mismatch: %s", spew.Sdump(out.Message))
	}
	if got := env.fan.events(bob.ID, model.EventChangeVideoID); len(got) != 1 {
		t.Fatalf("ChangeVideoID: expected one changeVideoId event for bob, got %d", len(got))
	}
}

func TestPredictPosition(t *testing.T) {
	const (
		pos = int64(10_000)
		at  = int64(1_000_000)
		now = int64(1_003_000)
	)
	if got := predictPosition(pos, at, model.StatePlaying, now); got != 13_000 {
		t.Fatalf("predictPosition: playing want=13000 got=%d", got)
	}
	if got := predictPosition(pos, at, model.StatePaused, now); got != 10_000 {
		t.Fatalf("predictPosition: paused want=10000 got=%d", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{7_000, "0:07"},
		{20_000, "0:20"},
		{260_000, "4:20"},
		{600_000, "10:00"},
		{3_600_000, "1:00:00"},
		{3_725_000, "1:02:05"},
		{36_000_000, "10:00:00"},
		{-5_000, "0:00"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.ms); got != tt.want {
			t.Fatalf("formatTimestamp(%d): want=%q got=%q", tt.ms, tt.want, got)
		}
	}
}
