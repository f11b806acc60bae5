package service

import (
	"watchparty/model"
)

type CreateResult struct {
	Session *model.Session `json:"session"`
}

type JoinResult struct {
	Session *model.Session         `json:"session"`
	Users   map[string]*model.User `json:"users"`
}

type JoinBroadcast struct {
	User    *model.User    `json:"user"`
	Message *model.Message `json:"message"`
}

type LeaveBroadcast struct {
	UserID  string         `json:"userId"`
	Message *model.Message `json:"message"`
}

// CreateSession starts a new watch-party session with the caller as its
// first member. With controlLock the caller becomes the session owner
// and playback mutations are restricted to them.
func (e *Engine) CreateSession(userID, videoService string, videoID int, controlLock bool) (*CreateResult, error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	if !model.ValidVideoService(videoService) {
		return nil, &ValidationError{Reason: ReasonUnsupportedService}
	}
	if videoID < 0 {
		return nil, &ValidationError{Reason: ReasonInvalidVideoID}
	}

	e.leaveSessionLocked(user)

	// Collisions are vanishingly unlikely with 64 bits of entropy but
	// still have to be handled, not assumed away.
	var id string
	for {
		id = e.newToken()
		if !e.store.HasSession(id) {
			break
		}
		e.logger.Warn().Str("sessionID", id).Msg("session token collision, regenerating")
	}

	sess := &model.Session{
		ID:                id,
		Users:             []string{userID},
		VideoService:      videoService,
		VideoID:           videoID,
		State:             model.StatePaused,
		Position:          0,
		PositionUpdatedAt: e.nowMillis(),
		Messages:          make(map[string]*model.Message),
	}
	if controlLock {
		sess.OwnerID = userID
	}
	user.SessionID = id
	e.appendSystemMessage(sess, userID, "created the session")
	e.store.PutSession(sess)
	e.updateGauges()

	e.logger.Debug().
		Str("sessionID", id).
		Str("userID", userID).
		Bool("controlLock", controlLock).
		Msg("session created")
	return &CreateResult{Session: sess.Clone()}, nil
}

// JoinSession adds the caller to an existing session. The caller's
// claimed video service and id must exactly match the session's; the
// client has to already agree with the session before joining. Returns
// the session snapshot plus the full member roster so the client can
// render presence without extra round-trips.
func (e *Engine) JoinSession(userID, sessionID, videoService string, videoID int) (*JoinResult, error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	sess, err := e.store.Session(sessionID)
	if err != nil {
		return nil, &NotFoundError{Reason: ReasonSessionNotFound}
	}
	if sess.VideoService != videoService || sess.VideoID != videoID {
		return nil, &ValidationError{Reason: ReasonVideoMismatch}
	}

	// Rejoining the session you are already in is answered with a fresh
	// snapshot but must not spam the log with another join message.
	if user.SessionID == sessionID && sess.HasUser(userID) {
		return e.joinResultLocked(sess), nil
	}

	if user.SessionID != "" && user.SessionID != sessionID {
		e.leaveSessionLocked(user)
	}
	if !sess.HasUser(userID) {
		sess.Users = append(sess.Users, userID)
	}
	user.SessionID = sessionID

	msg := e.appendSystemMessage(sess, userID, "joined the session")
	e.broadcast(sess, model.EventJoinSession,
		JoinBroadcast{User: user.Clone(), Message: msg.Clone()}, userID)
	e.updateGauges()

	e.logger.Debug().
		Str("sessionID", sessionID).
		Str("userID", userID).
		Msg("user joined session")
	return e.joinResultLocked(sess), nil
}

func (e *Engine) joinResultLocked(sess *model.Session) *JoinResult {
	roster := make(map[string]*model.User, len(sess.Users))
	for id, member := range e.store.Users(sess.Users) {
		roster[id] = member.Clone()
	}
	return &JoinResult{
		Session: sess.Clone(),
		Users:   roster,
	}
}

// LeaveSession removes the caller from their current session. A no-op
// if the user is unknown or not in a session.
func (e *Engine) LeaveSession(userID string) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return
	}
	e.leaveSessionLocked(user)
	e.updateGauges()
}

// leaveSessionLocked detaches user from their session, tells the
// remaining active members, and deletes the session the moment its
// last active member is gone.
func (e *Engine) leaveSessionLocked(user *model.User) {
	if user.SessionID == "" {
		return
	}
	sessionID := user.SessionID
	user.SessionID = ""

	sess, err := e.store.Session(sessionID)
	if err != nil {
		return
	}
	sess.RemoveUser(user.ID)

	if len(e.activeMembers(sess)) == 0 {
		e.store.DeleteSession(sess.ID)
		e.logger.Debug().
			Str("sessionID", sess.ID).
			Msg("last active member left, session deleted")
		return
	}

	msg := e.appendSystemMessage(sess, user.ID, "left the session")
	e.broadcast(sess, model.EventLeaveSession,
		LeaveBroadcast{UserID: user.ID, Message: msg.Clone()}, user.ID)

	e.logger.Debug().
		Str("sessionID", sess.ID).
		Str("userID", user.ID).
		Msg("user left session")
}
