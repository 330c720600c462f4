// Package web serves the one-shot OAuth callback listener.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	// ErrDenied is returned when the redirect carries no authorization code.
	ErrDenied = errors.New("authorization denied")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrTimeout is returned when no redirect arrives before the deadline.
	ErrTimeout = errors.New("timed out waiting for authorization callback")
)

// CallbackConfig configures a CallbackServer.
type CallbackConfig struct {
	// Addr is the host:port to bind, taken from the redirect URI.
	Addr string
	// Path is the single route served, e.g. "/callback".
	Path string
	// State, when non-empty, must match the "state" query parameter.
	State string
}

// outcome is the single result delivered by the callback handler.
type outcome struct {
	code string
	err  error
}

// CallbackServer is a single-request HTTP listener that captures the OAuth
// authorization code from the browser redirect.
type CallbackServer struct {
	cfg       CallbackConfig
	router    chi.Router
	server    *http.Server
	listener  net.Listener
	templates *Templates
	logger    *slog.Logger

	handled atomic.Bool
	result  chan outcome
	served  chan struct{}

	shutdownOnce sync.Once
}

// NewCallbackServer creates the listener. Call Start to bind the port.
func NewCallbackServer(cfg CallbackConfig, templates *Templates, logger *slog.Logger) *CallbackServer {
	if cfg.Path == "" {
		cfg.Path = "/callback"
	}

	s := &CallbackServer{
		cfg:       cfg,
		router:    chi.NewRouter(),
		templates: templates,
		logger:    logger,
		result:    make(chan outcome, 1),
		served:    make(chan struct{}),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get(cfg.Path, s.handleCallback)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Start binds the configured address and serves in the background.
// Bind errors are returned synchronously.
func (s *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("binding callback listener on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	go func() {
		defer close(s.served)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server error", "error", err)
		}
	}()

	s.logger.Info("callback listener started", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address. Useful when Addr was configured with port 0.
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Wait blocks until the callback is handled, the timeout passes or ctx ends.
// The listener is always shut down before Wait returns.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res outcome
	select {
	case res = <-s.result:
	case <-timer.C:
		res = outcome{err: ErrTimeout}
	case <-ctx.Done():
		res = outcome{err: ctx.Err()}
	}

	s.Shutdown()
	return res.code, res.err
}

// Shutdown stops the listener and waits for the serve loop to exit, which
// releases the port. Safe to call more than once.
func (s *CallbackServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("callback server shutdown", "error", err)
		}
	})
	if s.listener != nil {
		<-s.served
	}
}

// handleCallback serves the one redirect this listener exists for.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.handled.CompareAndSwap(false, true) {
		http.Error(w, "Callback already handled", http.StatusGone)
		return
	}

	query := r.URL.Query()
	w.Header().Set("Connection", "close")

	var res outcome
	switch {
	case s.cfg.State != "" && query.Get("state") != s.cfg.State:
		res = outcome{err: ErrStateMismatch}
	case query.Get("error") != "":
		res = outcome{err: fmt.Errorf("%w: %s", ErrDenied, query.Get("error"))}
	case query.Get("code") == "":
		res = outcome{err: ErrDenied}
	default:
		res = outcome{code: query.Get("code")}
	}

	if res.err != nil {
		s.logger.Warn("authorization callback rejected", "error", res.err)
		s.render(w, http.StatusBadRequest, "failure", CallbackPageData{
			Title:  "Authorization Failed",
			Reason: res.err.Error(),
		})
	} else {
		s.logger.Info("authorization code captured")
		s.render(w, http.StatusOK, "success", CallbackPageData{
			Title:   "Authorization Successful",
			Success: true,
		})
	}

	s.result <- res

	// The response is flushed before the server finishes shutting down.
	go s.Shutdown()
}

func (s *CallbackServer) render(w http.ResponseWriter, status int, page string, data CallbackPageData) {
	if err := s.templates.Respond(w, status, page, data); err != nil {
		s.logger.Error("rendering callback page", "page", page, "error", err)
		http.Error(w, data.Title, status)
	}
}
