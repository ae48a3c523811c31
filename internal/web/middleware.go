// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
)

const sessionCookie = "cybernet_session"

// Identity is the authenticated caller resolved from the session cookie.
type Identity struct {
	UserID       ulid.ULID
	Username     string
	SessionToken string
}

type identityKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the authenticated identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// requireSession resolves the session cookie to an identity and stores it
// in the request context. Requests without a live session are redirected to
// the login page, or get a 401 envelope if they asked for JSON.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.currentIdentity(r)
		if !ok {
			if wantsJSON(r) {
				writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "Authentication required"})
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// currentIdentity resolves the session cookie without enforcing it. Used by
// pages that render differently for logged-in visitors.
func (s *Server) currentIdentity(r *http.Request) (Identity, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return Identity{}, false
	}
	sess, err := s.auth.ValidateSession(r.Context(), c.Value)
	if err != nil {
		return Identity{}, false
	}
	return Identity{
		UserID:       sess.UserID,
		Username:     sess.Username,
		SessionToken: c.Value,
	}, true
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// countRequests records one counter increment per handled request, labeled
// with the route template rather than the raw path so tokens don't explode
// metric cardinality.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics == nil {
			return
		}
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
