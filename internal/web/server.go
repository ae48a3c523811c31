// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package web serves the CyberNet HTTP surface: registration, login,
// password reset pages and the small authenticated JSON API. POST handlers
// accept form or JSON bodies and respond in kind.
package web

import (
	"context"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/cybernet/cybernet/internal/auth"
	"github.com/cybernet/cybernet/internal/observability"
)

// Server is the public-facing HTTP server.
type Server struct {
	addr    string
	baseURL string
	secure  bool

	auth    *auth.Service
	resets  *auth.PasswordResetService
	metrics *observability.Metrics
	logger  *slog.Logger

	pages      map[string]*template.Template
	router     *mux.Router
	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer wires the HTTP surface. baseURL is the externally reachable
// prefix used when building reset links; a https baseURL turns on the
// Secure cookie attribute. metrics may be nil.
func NewServer(addr, baseURL string, authSvc *auth.Service, resets *auth.PasswordResetService, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if authSvc == nil {
		return nil, oops.Errorf("auth service cannot be nil")
	}
	if resets == nil {
		return nil, oops.Errorf("password reset service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, oops.Wrapf(err, "parsing page templates")
	}

	s := &Server{
		addr:    addr,
		baseURL: strings.TrimRight(baseURL, "/"),
		secure:  strings.HasPrefix(baseURL, "https://"),
		auth:    authSvc,
		resets:  resets,
		metrics: metrics,
		logger:  logger,
		pages:   pages,
	}
	s.router = s.routes()
	s.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(os.Stdout, s.router),
	)
	return s, nil
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegisterPage).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/reset-password", s.handleResetRequestPage).Methods(http.MethodGet)
	r.HandleFunc("/reset-password", s.handleResetRequest).Methods(http.MethodPost)
	r.HandleFunc("/reset-password/{token}", s.handleResetConfirmPage).Methods(http.MethodGet)
	r.HandleFunc("/reset-password/{token}", s.handleResetConfirm).Methods(http.MethodPost)

	guarded := r.NewRoute().Subrouter()
	guarded.Use(s.requireSession)
	guarded.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)
	guarded.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	guarded.HandleFunc("/api/user/profile", s.handleUserProfile).Methods(http.MethodGet)
	guarded.HandleFunc("/api/dashboard/stats", s.handleDashboardStats).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return r
}

// Start begins serving on the configured address. It returns an error
// channel that receives any error from the HTTP server after it starts;
// the channel is closed on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the web server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the listen address, or "" if the server is not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// resetLink builds the absolute confirm URL embedded in reset mail.
func (s *Server) resetLink(token string) string {
	return s.baseURL + "/reset-password/" + token
}

// setSessionCookie installs the opaque session token with a lifetime
// matching the server-side session expiry.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(time.Until(expiresAt) / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
