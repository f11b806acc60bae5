package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"watchparty/model"
	"watchparty/service"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// Engine is the command surface the connection layer dispatches to.
	Engine interface {
		Connect(ctx context.Context, userID, token string, incognito bool, wire model.Wire, closer func()) (*model.User, int64, error)
		Disconnected(userID string, gen int64)

		CreateSession(userID, videoService string, videoID int, controlLock bool) (*service.CreateResult, error)
		JoinSession(userID, sessionID, videoService string, videoID int) (*service.JoinResult, error)
		LeaveSession(userID string)

		UpdateSession(userID string, update service.PlaybackUpdate) (*service.SessionUpdate, error)
		ChangeVideoID(userID string, videoID int) (*service.VideoChange, error)
		Buffering(userID string, buffering bool) error

		SendMessage(userID, content string) (*model.Message, error)
		LikeMessage(userID, msgID string) error
		UnlikeMessage(userID, msgID string) error
		Typing(userID string, typing bool) error

		ChangeName(userID, name string) (*service.ProfileChange, error)
		ChangeIcon(userID, icon string) (*service.ProfileChange, error)
		ServerTime() int64
	}

	Config struct {
		Logger     *zerolog.Logger
		Engine     Engine
		ListenAddr string
	}

	Server struct {
		engine Engine
		ws     *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		engine: cfg.Engine,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.connect)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

// connect upgrades the connection and runs the auth handshake. Query
// parameters: userid + token, or incognito=true. A rejected connection
// gets a single error frame and is closed; no commands are dispatched
// for it.
func (srv *Server) connect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		userID    = q.Get("userid")
		token     = q.Get("token")
		incognito = q.Get("incognito") == "true"
	)

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	wire := model.NewWire()

	ctx, cancel := context.WithCancel(context.TODO()) // long-living connection context

	user, gen, err := srv.engine.Connect(r.Context(), userID, token, incognito, wire, cancel)
	if err != nil {
		srv.logger.Warn().Err(err).Msg("connection rejected")
		writeEvent(conn, model.Event{Type: model.EventError, Err: service.Reason(err)}, &srv.logger)
		cancel()
		webSocketCloser(conn, &srv.logger)
		return
	}
	srv.logger.Debug().
		Str("userID", user.ID).
		Msg("connection established")

	go srv.handleWSConn(ctx, cancel, conn, user.ID, gen, wire)
}

type client struct {
	userID string
	gen    int64
	wire   model.Wire
	cancel context.CancelFunc
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	userID string,
	gen int64,
	wire model.Wire,
) {
	wg := &sync.WaitGroup{}

	logger := srv.logger.With().
		Str("userID", userID).
		Logger()

	cl := &client{userID: userID, gen: gen, wire: wire, cancel: cancel}

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, cl, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, &logger)
	srv.engine.Disconnected(userID, gen)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case ev, ok := <-tx:
			if !ok {
				break SendLoop
			}
			if !writeEvent(conn, ev, logger) {
				break SendLoop
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.Event, logger *zerolog.Logger) bool {
	b, err := json.Marshal(&ev)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshall outgoing event")
		return false
	}

	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket write deadline")
		return false
	}
	wsW, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get websocket text writer")
		return false
	}
	if _, err = wsW.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write outgoing event")
		return false
	}
	if err = wsW.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close websocket writer")
		return false
	}
	return true
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	cl *client,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var fr frame
			if wsErr = json.Unmarshal(msg, &fr); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to unmarshall incoming frame")
				continue
			}
			srv.dispatch(ctx, cl, fr, logger)
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
