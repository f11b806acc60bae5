package service

import (
	"context"

	"watchparty/metrics"
	"watchparty/model"
)

type MessageBroadcast struct {
	Message *model.Message `json:"message"`
}

type LikeBroadcast struct {
	MsgID string     `json:"msgId"`
	Like  model.Like `json:"like"`
}

type UnlikeBroadcast struct {
	MsgID  string `json:"msgId"`
	UserID string `json:"userId"`
}

type TypingBroadcast struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type ProfileChange struct {
	UserID  string         `json:"userId"`
	Name    string         `json:"name,omitempty"`
	Icon    string         `json:"icon,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

// SendMessage appends a chat message to the caller's session and fans
// it out. The created message is returned to the sender so clients
// don't have to render optimistically.
func (e *Engine) SendMessage(userID, content string) (*model.Message, error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	if content == "" {
		return nil, &ValidationError{Reason: ReasonEmptyMessage}
	}
	if user.SessionID == "" {
		return nil, &ValidationError{Reason: ReasonNotInSession}
	}
	sess, err := e.store.Session(user.SessionID)
	if err != nil {
		return nil, &NotFoundError{Reason: ReasonSessionNotFound}
	}

	msg := &model.Message{
		ID:        e.newMessageID(sess),
		UserID:    userID,
		Content:   content,
		CreatedAt: e.nowMillis(),
		Likes:     make(map[string]model.Like),
	}
	sess.Messages[msg.ID] = msg
	metrics.ChatMessagesTotal.Inc()

	cp := msg.Clone()
	e.broadcast(sess, model.EventSendMessage, MessageBroadcast{Message: cp}, userID)
	return cp, nil
}

// LikeMessage records the caller's like on a message. Liking an
// already-liked message is a silent no-op. The like delta goes to all
// active members including the actor.
func (e *Engine) LikeMessage(userID, msgID string) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	sess, msg, err := e.sessionMessage(userID, msgID)
	if err != nil {
		return err
	}
	if _, liked := msg.Likes[userID]; liked {
		return nil
	}

	like := model.Like{UserID: userID, LikedAt: e.nowMillis()}
	msg.Likes[userID] = like
	e.broadcast(sess, model.EventLikeMessage, LikeBroadcast{MsgID: msgID, Like: like}, "")
	return nil
}

// UnlikeMessage removes the caller's like. Unliking a never-liked
// message is a silent no-op.
func (e *Engine) UnlikeMessage(userID, msgID string) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	sess, msg, err := e.sessionMessage(userID, msgID)
	if err != nil {
		return err
	}
	if _, liked := msg.Likes[userID]; !liked {
		return nil
	}

	delete(msg.Likes, userID)
	e.broadcast(sess, model.EventUnlikeMessage, UnlikeBroadcast{MsgID: msgID, UserID: userID}, "")
	return nil
}

func (e *Engine) sessionMessage(userID, msgID string) (*model.Session, *model.Message, error) {
	user, err := e.store.User(userID)
	if err != nil {
		return nil, nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	if user.SessionID == "" {
		return nil, nil, &ValidationError{Reason: ReasonNotInSession}
	}
	sess, err := e.store.Session(user.SessionID)
	if err != nil {
		return nil, nil, &NotFoundError{Reason: ReasonSessionNotFound}
	}
	msg, ok := sess.Messages[msgID]
	if !ok {
		return nil, nil, &NotFoundError{Reason: ReasonMessageNotFound}
	}
	return sess, msg, nil
}

// Typing is an ephemeral presence signal, never persisted.
func (e *Engine) Typing(userID string, typing bool) error {
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

	user.Typing = typing
	e.broadcast(sess, model.EventTyping, TypingBroadcast{UserID: userID, Typing: typing}, userID)
	return nil
}

// ChangeName updates the caller's display name. The in-memory profile
// changes immediately and the caller is acked right away; the identity
// provider write happens in the background, UI responsiveness over
// write confirmation.
func (e *Engine) ChangeName(userID, name string) (*ProfileChange, error) {
	if name == "" {
		return nil, &ValidationError{Reason: ReasonEmptyName}
	}
	if runes := []rune(name); len(runes) > model.MaxNameLength {
		name = string(runes[:model.MaxNameLength])
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	user.Name = name

	go e.persistProfile(userID, func(ctx context.Context) error {
		return e.identity.UpdateDisplayName(ctx, userID, name)
	})

	out := &ProfileChange{UserID: userID, Name: name}
	if user.SessionID != "" {
		if sess, err := e.store.Session(user.SessionID); err == nil {
			out.Message = e.appendSystemMessage(sess, userID, "changed their name to "+name).Clone()
			e.broadcast(sess, model.EventChangeName, out, userID)
		}
	}
	return out, nil
}

// ChangeIcon updates the caller's profile icon, same contract as
// ChangeName.
func (e *Engine) ChangeIcon(userID, icon string) (*ProfileChange, error) {
	if !model.ValidIcon(icon) {
		return nil, &ValidationError{Reason: ReasonUnknownIcon}
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	user, err := e.store.User(userID)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonUnknownUser}
	}
	user.Icon = icon

	go e.persistProfile(userID, func(ctx context.Context) error {
		return e.identity.UpdateIcon(ctx, userID, icon)
	})

	out := &ProfileChange{UserID: userID, Icon: icon}
	if user.SessionID != "" {
		if sess, err := e.store.Session(user.SessionID); err == nil {
			out.Message = e.appendSystemMessage(sess, userID, "changed their icon to "+icon).Clone()
			e.broadcast(sess, model.EventChangeIcon, out, userID)
		}
	}
	return out, nil
}

// persistProfile writes a profile change to the identity provider,
// fire-and-forget. Failures are logged and swallowed; the in-memory
// profile already changed and stays changed.
func (e *Engine) persistProfile(userID string, write func(ctx context.Context) error) {
	if err := write(context.Background()); err != nil {
		e.logger.Error().
			Err(err).
			Str("userID", userID).
			Msg("profile persist failed")
	}
}
