// Package api serves the chat and conversation endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aixgo-dev/todo-assistant/internal/assistant"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
)

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// Options wires the server to its collaborators. Service and Auth are
// required.
type Options struct {
	Service *assistant.Service
	Auth    security.Authenticator
	Audit   security.AuditLogger
	Limiter *security.RateLimiter
	Health  *metrics.HealthChecker
	Logger  *slog.Logger
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg     Config
	svc     *assistant.Service
	auth    security.Authenticator
	audit   security.AuditLogger
	limiter *security.RateLimiter
	health  *metrics.HealthChecker
	logger  *slog.Logger

	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
}

// NewServer builds the route table and middleware chain.
func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Service == nil || opts.Auth == nil {
		return nil, errors.New("api: service and authenticator are required")
	}
	s := &Server{
		cfg:     cfg,
		svc:     opts.Service,
		auth:    opts.Auth,
		audit:   opts.Audit,
		limiter: opts.Limiter,
		health:  opts.Health,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
	}
	if s.audit == nil {
		s.audit = security.NoOpAuditLogger{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	if s.health == nil {
		s.health = metrics.NewHealthChecker("")
	}

	protect := security.ExtractAuthContext(s.auth, s.audit)
	s.mux.Handle("POST /api/{user_id}/chat", protect(s.requireOwner(s.handleChat)))
	s.mux.Handle("GET /api/{user_id}/conversations", protect(s.requireOwner(s.handleListConversations)))
	s.mux.Handle("GET /api/{user_id}/conversations/{conversation_id}", protect(s.requireOwner(s.handleGetConversation)))
	s.mux.Handle("DELETE /api/{user_id}/conversations/{conversation_id}", protect(s.requireOwner(s.handleDeleteConversation)))
	metrics.RegisterRoutes(s.mux, s.health)

	s.handler = chain(s.mux,
		s.recoverer,
		s.requestID,
		s.cors,
		s.observe,
	)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on Config.Addr and blocks until the server stops. It returns
// nil after a graceful Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
