// Package api serves the assistant over HTTP and WebSocket.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/audit"
	"github.com/hanig/hani-replica/internal/bot"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/health"
	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/usage"
)

// Pipeline handles messages and action decisions. Implemented by
// *bot.Handler.
type Pipeline interface {
	Handle(ctx context.Context, in bot.Inbound) bot.Reply
	HandleStream(ctx context.Context, in bot.Inbound) <-chan agent.Event
	Confirm(ctx context.Context, userID, channelID, actionID string) bot.Reply
	Cancel(ctx context.Context, userID, channelID, actionID string) bot.Reply
}

// Config wires a Server. Audit, Usage and Events may be nil; the routes
// that need them answer 503.
type Config struct {
	Address string
	Port    int

	// Username and PasswordHash (bcrypt) enable basic auth on every
	// route except /healthz.
	Username     string
	PasswordHash string

	// Streaming selects HandleStream for /v1/stream. When false the
	// socket receives a single done event.
	Streaming bool

	Pipeline      Pipeline
	Guard         *security.Guard
	Audit         *audit.Logger
	Usage         *usage.Store
	Conversations *conversation.Manager
	Events        *events.Bus
	Health        *health.Monitor
	Location      *time.Location

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a server. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the routed handler with logging and auth applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/actions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/actions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/security/events", s.handleSecurityEvents)
	mux.HandleFunc("GET /v1/security/stats", s.handleSecurityStats)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/audit/stats", s.handleAuditStats)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withLogging(s.withAuth(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long for multi-step agent runs.
		WriteTimeout: 180 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		level := slog.LevelInfo
		if r.URL.Path == "/healthz" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.Username == "" || s.cfg.PasswordHash == "" {
		return next
	}
	hash := []byte(s.cfg.PasswordHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 ||
			bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="hani-replica"`)
			s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON to w. Encoding errors usually mean the
// client went away and are only logged at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
