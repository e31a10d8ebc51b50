// Package server exposes an asset manager over HTTP and websocket.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/objwatch/internal/assets"
	"github.com/Faultbox/objwatch/internal/config"
	"github.com/Faultbox/objwatch/internal/logger"
)

// AssetSource is what the server needs from an asset manager.
type AssetSource interface {
	Names() []string
	Fetch(ctx context.Context, name string) (*assets.Asset, error)
	Subscribe(name string) (*assets.Subscription, error)
}

// Server routes HTTP requests and owns the websocket sessions.
type Server struct {
	cfg      config.ServerConfig
	source   AssetSource
	log      *zap.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
	events   map[string]eventHandler

	mu       sync.Mutex
	sessions map[string]*session
	http     *http.Server
}

// New creates a server backed by source.
func New(cfg config.ServerConfig, source AssetSource, log *zap.Logger) *Server {
	if log == nil {
		log = logger.Named("server")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 40 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		source:   source,
		log:      log,
		events:   defaultEvents(),
		sessions: make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBuffer,
		WriteBufferSize: cfg.WriteBuffer,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/assets", s.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/api/assets", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/assets/{name}", s.handleAsset).Methods(http.MethodGet)

	var h http.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(log.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(r)
	s.handler = handlers.CombinedLoggingHandler(logger.Writer("http"), h)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.log.Info("listening", zap.String("addr", s.cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serving %s", s.cfg.Addr)
	}
	return nil
}

// Shutdown stops accepting requests and closes every websocket session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, sess := range sessions {
		sess.close()
	}
	return err
}

// Sessions returns the number of open websocket sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.log.Info("session opened", zap.String("session", sess.id), zap.Int("sessions", n))
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sess.id)
	s.log.Info("session closed", zap.String("session", sess.id), zap.Int("sessions", len(s.sessions)))
}

// checkOrigin allows any origin unless an allow list is configured.
// Requests without an Origin header are not from browsers and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.log.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}
