package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/dispatch"
	"github.com/roach88/tally/internal/leaderboard"
)

// MaxUserLen is the longest accepted user id, in bytes after normalization.
const MaxUserLen = 256

// EventHandler commits connection lifecycle and client events.
// *dispatch.Dispatcher satisfies it.
type EventHandler interface {
	Connect(ctx context.Context, conn, user string) (int64, error)
	Handle(ctx context.Context, conn, name string, payload map[string]any) (dispatch.Result, error)
	Disconnect(ctx context.Context, conn string) error
}

// Snapshotter provides the current leaderboard.
type Snapshotter interface {
	Snapshot() []counter.Entry
}

// Pusher sends the leaderboard to one connection.
type Pusher interface {
	PushTo(conn string) error
}

// Server serves the WebSocket endpoint and the read-only HTTP routes.
type Server struct {
	events  EventHandler
	board   Snapshotter
	hub     *Hub
	pusher  Pusher
	ids     IDGenerator
	origins []string
	logger  *slog.Logger

	active sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithIDGenerator sets the connection id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Server) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithAllowedOrigins sets the accepted Origin values. "*" accepts any
// origin, including none. Default: "*".
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPusher sets who delivers the leaderboard right after connect.
// Without one, the snapshot is queued directly on the hub.
func WithPusher(p Pusher) Option {
	return func(s *Server) { s.pusher = p }
}

// NewServer creates a server. hub must be the same Hub the leaderboard
// broadcaster emits to.
func NewServer(events EventHandler, board Snapshotter, hub *Hub, opts ...Option) *Server {
	s := &Server{
		events:  events,
		board:   board,
		hub:     hub,
		ids:     UUIDv7Generator{},
		origins: []string{"*"},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/leaderboard", s.serveLeaderboard)
	r.Get("/ws", s.serveWS)
	return r
}

func (s *Server) serveLeaderboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.board.Snapshot()); err != nil {
		s.logger.Error("write leaderboard", "error", err)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	user, status, err := userFromRequest(r)
	if err != nil {
		s.logger.Debug("websocket rejected", "remote", r.RemoteAddr, "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	ws := websocket.Server{
		Handshake: s.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			s.handleConn(conn, user)
		},
	}

	// Counted before the hijack, while http.Server.Shutdown still tracks
	// the request, so Wait cannot miss it.
	s.active.Add(1)
	defer s.active.Done()
	ws.ServeHTTP(w, r)
}

// userFromRequest extracts the user id from the query string, trimmed and
// NFC-normalized so visually identical ids map to one counter.
func userFromRequest(r *http.Request) (string, int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("user"))
	if !utf8.ValidString(raw) {
		return "", http.StatusBadRequest, errors.New("user is not valid UTF-8")
	}
	user := norm.NFC.String(raw)
	switch {
	case user == "":
		return "", http.StatusUnauthorized, errors.New("user is required")
	case len(user) > MaxUserLen:
		return "", http.StatusBadRequest, fmt.Errorf("user exceeds %d bytes", MaxUserLen)
	}
	return user, 0, nil
}

func (s *Server) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	cfg.Origin = origin
	if !originAllowed(s.origins, origin) {
		s.logger.Warn("websocket origin rejected", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		return fmt.Errorf("origin not allowed")
	}
	return nil
}

func originAllowed(allowed []string, origin *url.URL) bool {
	for _, a := range allowed {
		if a == "*" {
			return true
		}
	}
	if origin == nil {
		return false
	}
	got := strings.ToLower(origin.Scheme + "://" + origin.Host)
	for _, a := range allowed {
		if strings.ToLower(strings.TrimRight(a, "/")) == got {
			return true
		}
	}
	return false
}

// Wait blocks until every connection handler has returned or ctx is done.
// Call it after Hub.CloseAll so disconnects reach the log before it closes.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConn runs one connection: connect, read loop, disconnect.
func (s *Server) handleConn(conn *websocket.Conn, user string) {
	defer conn.Close()

	ctx := conn.Request().Context()
	id := s.ids.Generate()
	logger := s.logger.With("conn", id, "user", user)

	count, err := s.events.Connect(ctx, id, user)
	if err != nil {
		logger.Warn("connection rejected", "error", err)
		if msg, encErr := encodeFrame(EventAuthError, "could not establish session"); encErr == nil {
			_ = websocket.Message.Send(conn, string(msg))
		}
		return
	}

	queue := s.hub.add(id, conn)
	pumpDone := make(chan struct{})
	go s.writePump(conn, queue, pumpDone, logger)

	defer func() {
		if err := s.events.Disconnect(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, dispatch.ErrNotConnected) {
			logger.Warn("disconnect not recorded", "error", err)
		}
		s.hub.remove(id)
		<-pumpDone
		logger.Info("connection closed")
	}()

	logger.Info("connection opened")
	_ = s.hub.Send(id, EventUserData, UserData{Name: user, Score: count})
	s.pushLeaderboard(id, logger)

	s.readLoop(ctx, conn, id, user, logger)
}

func (s *Server) pushLeaderboard(id string, logger *slog.Logger) {
	var err error
	if s.pusher != nil {
		err = s.pusher.PushTo(id)
	} else {
		err = s.hub.Send(id, leaderboard.EventName, s.board.Snapshot())
	}
	if err != nil {
		logger.Debug("initial leaderboard not sent", "error", err)
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id, user string, logger *slog.Logger) {
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			logger.Debug("read loop ended", "error", err)
			return
		}

		name, payload, err := decodeFrame(msg)
		if err != nil {
			_ = s.hub.Send(id, EventError, err.Error())
			continue
		}

		res, err := s.events.Handle(ctx, id, name, payload)
		switch {
		case err == nil:
			if res.Counted {
				_ = s.hub.Send(id, EventUserData, UserData{Name: user, Score: res.Count})
			}
		case errors.Is(err, dispatch.ErrNotConnected):
			return
		case errors.Is(err, dispatch.ErrLogWrite):
			_ = s.hub.Send(id, EventError, "event could not be saved")
		default:
			_ = s.hub.Send(id, EventError, err.Error())
		}
	}
}

// writePump writes queued frames until the queue is closed.
func (s *Server) writePump(conn *websocket.Conn, queue <-chan []byte, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)
	for msg := range queue {
		if err := websocket.Message.Send(conn, string(msg)); err != nil {
			logger.Debug("write failed", "error", err)
			_ = conn.Close()
			return
		}
	}
}
