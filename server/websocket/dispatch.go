package websocket

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"watchparty/metrics"
	"watchparty/model"
	"watchparty/service"
)

// Command names accepted from clients.
const (
	cmdCreateSession    = "createSession"
	cmdJoinSession      = "joinSession"
	cmdLeaveSession     = "leaveSession"
	cmdUserDisconnected = "userDisconnected"
	cmdSendMessage      = "sendMessage"
	cmdLikeMessage      = "likeMessage"
	cmdUnlikeMessage    = "unlikeMessage"
	cmdTyping           = "typing"
	cmdChangeName       = "changeName"
	cmdChangeIcon       = "changeIcon"
	cmdGetServerTime    = "getServerTime"
	cmdBuffering        = "buffering"
	cmdUpdateSession    = "updateSession"
	cmdChangeVideoID    = "changeVideoId"
)

const reasonBadRequest = "bad-request"

type frame struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type (
	createSessionReq struct {
		VideoService string `json:"videoService"`
		VideoID      int    `json:"videoId"`
		ControlLock  bool   `json:"controlLock"`
	}
	joinSessionReq struct {
		ID           string `json:"id"`
		VideoService string `json:"videoService"`
		VideoID      int    `json:"videoId"`
	}
	sendMessageReq struct {
		Content string `json:"content"`
	}
	messageRefReq struct {
		MsgID string `json:"msgId"`
	}
	typingReq struct {
		Typing bool `json:"typing"`
	}
	bufferingReq struct {
		Buffering bool `json:"buffering"`
	}
	changeNameReq struct {
		Name string `json:"name"`
	}
	changeIconReq struct {
		Icon string `json:"icon"`
	}
	changeVideoIDReq struct {
		VideoID int `json:"videoId"`
	}
	serverTimeResp struct {
		Time int64 `json:"time"`
	}
	messageResp struct {
		Message *model.Message `json:"message"`
	}
)

// dispatch routes one inbound frame to the engine. Request/ack commands
// answer through the caller's own wire so responses and broadcasts stay
// ordered on a single writer. Fire-and-forget failures are logged and
// dropped.
func (srv *Server) dispatch(ctx context.Context, cl *client, fr frame, logger *zerolog.Logger) {
	metrics.CommandsTotal.WithLabelValues(fr.Type).Inc()

	switch fr.Type {
	case cmdCreateSession:
		var req createSessionReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.CreateSession(cl.userID, req.VideoService, req.VideoID, req.ControlLock)
		srv.ack(ctx, cl, fr, out, err)

	case cmdJoinSession:
		var req joinSessionReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.JoinSession(cl.userID, req.ID, req.VideoService, req.VideoID)
		srv.ack(ctx, cl, fr, out, err)

	case cmdLeaveSession:
		srv.engine.LeaveSession(cl.userID)

	case cmdUserDisconnected:
		srv.engine.Disconnected(cl.userID, cl.gen)
		cl.cancel()

	case cmdSendMessage:
		var req sendMessageReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		msg, err := srv.engine.SendMessage(cl.userID, req.Content)
		srv.ack(ctx, cl, fr, messageResp{Message: msg}, err)

	case cmdLikeMessage:
		var req messageRefReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		srv.dropErr(srv.engine.LikeMessage(cl.userID, req.MsgID), fr.Type, logger)

	case cmdUnlikeMessage:
		var req messageRefReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		srv.dropErr(srv.engine.UnlikeMessage(cl.userID, req.MsgID), fr.Type, logger)

	case cmdTyping:
		var req typingReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		srv.dropErr(srv.engine.Typing(cl.userID, req.Typing), fr.Type, logger)

	case cmdBuffering:
		var req bufferingReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		srv.dropErr(srv.engine.Buffering(cl.userID, req.Buffering), fr.Type, logger)

	case cmdChangeName:
		var req changeNameReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.ChangeName(cl.userID, req.Name)
		srv.ack(ctx, cl, fr, out, err)

	case cmdChangeIcon:
		var req changeIconReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.ChangeIcon(cl.userID, req.Icon)
		srv.ack(ctx, cl, fr, out, err)

	case cmdUpdateSession:
		var req service.PlaybackUpdate
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.UpdateSession(cl.userID, req)
		srv.ack(ctx, cl, fr, out, err)

	case cmdChangeVideoID:
		var req changeVideoIDReq
		if !srv.decode(ctx, cl, fr, &req, logger) {
			return
		}
		out, err := srv.engine.ChangeVideoID(cl.userID, req.VideoID)
		srv.ack(ctx, cl, fr, out, err)

	case cmdGetServerTime:
		srv.ack(ctx, cl, fr, serverTimeResp{Time: srv.engine.ServerTime()}, nil)

	default:
		logger.Warn().Str("type", fr.Type).Msg("unknown command")
	}
}

func (srv *Server) decode(ctx context.Context, cl *client, fr frame, dst any, logger *zerolog.Logger) bool {
	if err := json.Unmarshal(fr.Data, dst); err != nil {
		logger.Error().Err(err).Str("type", fr.Type).Msg("failed to decode command payload")
		if fr.Seq != 0 {
			srv.send(ctx, cl, model.Event{Type: model.EventAck, Seq: fr.Seq, Err: reasonBadRequest})
		}
		return false
	}
	return true
}

func (srv *Server) ack(ctx context.Context, cl *client, fr frame, data any, err error) {
	ev := model.Event{Type: model.EventAck, Seq: fr.Seq}
	if err != nil {
		ev.Err = service.Reason(err)
	} else {
		ev.Data = data
	}
	srv.send(ctx, cl, ev)
}

func (srv *Server) send(ctx context.Context, cl *client, ev model.Event) {
	select {
	case cl.wire.TX <- ev:
	case <-ctx.Done():
	}
}

func (srv *Server) dropErr(err error, command string, logger *zerolog.Logger) {
	if err != nil {
		logger.Debug().Err(err).Str("type", command).Msg("fire-and-forget command dropped")
	}
}
