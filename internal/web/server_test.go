// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cybernet/cybernet/internal/auth"
	"github.com/cybernet/cybernet/internal/web"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testBaseURL = "http://cybernet.test"

// apiResponse mirrors the JSON envelope the handlers write.
type apiResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Error   string   `json:"error"`
	Errors  []string `json:"errors"`
}

type fixture struct {
	handler  http.Handler
	users    *memUserRepo
	notifier *fakeNotifier
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	users := newMemUserRepo()
	sessions := newMemSessionStore()
	resets := newMemResetRepo()
	notifier := &fakeNotifier{}
	hasher := auth.NewArgon2idHasher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authSvc, err := auth.NewServiceWithLogger(users, sessions, hasher, logger)
	require.NoError(t, err)

	resetSvc, err := auth.NewPasswordResetService(users, resets, hasher, notifier, passTransactor{}, logger)
	require.NoError(t, err)

	srv, err := web.NewServer("127.0.0.1:0", testBaseURL, authSvc, resetSvc, nil, logger)
	require.NoError(t, err)

	return &fixture{handler: srv.Handler(), users: users, notifier: notifier}
}

func (f *fixture) postJSON(t *testing.T, path string, body map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postForm(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) getJSON(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) getHTML(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// sessionCookieFrom returns the session cookie set by the response, or nil.
func sessionCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "cybernet_session" {
			return c
		}
	}
	return nil
}

// register creates an account over the JSON API and returns its session cookie.
func (f *fixture) register(t *testing.T, username, email, password string) *http.Cookie {
	t.Helper()
	rec := f.postJSON(t, "/register", map[string]string{
		"username":         username,
		"email":            email,
		"password":         password,
		"confirm_password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, "register failed: %s", rec.Body.String())

	cookie := sessionCookieFrom(rec)
	require.NotNil(t, cookie, "register must set a session cookie")
	return cookie
}

func TestRegisterJSON(t *testing.T) {
	t.Run("success logs the user in", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.postJSON(t, "/register", map[string]string{
			"username":         "alice",
			"email":            "alice@example.com",
			"password":         "Secret123",
			"confirm_password": "Secret123",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "Registration successful", resp.Message)

		cookie := sessionCookieFrom(rec)
		require.NotNil(t, cookie)
		assert.NotEmpty(t, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.Positive(t, cookie.MaxAge)
	})

	t.Run("validation errors are aggregated", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.postJSON(t, "/register", map[string]string{
			"username":         "ab",
			"email":            "not-an-email",
			"password":         "short",
			"confirm_password": "different",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Errors, "Username must be at least 3 characters long")
		assert.Contains(t, resp.Errors, "Valid email address is required")
		assert.Contains(t, resp.Errors, "Passwords do not match")
		assert.Contains(t, resp.Errors, "Password must be at least 8 characters long")
		assert.Nil(t, sessionCookieFrom(rec))
	})

	t.Run("duplicate username and email", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")

		rec := f.postJSON(t, "/register", map[string]string{
			"username":         "alice",
			"email":            "alice@example.com",
			"password":         "Secret123",
			"confirm_password": "Secret123",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Contains(t, resp.Errors, "Username already exists")
		assert.Contains(t, resp.Errors, "Email already registered")
	})
}

func TestRegisterForm(t *testing.T) {
	f := newTestServer(t)

	rec := f.postForm(t, "/register", url.Values{
		"username":         {"bob"},
		"email":            {"bob@example.com"},
		"password":         {"Secret123"},
		"confirm_password": {"Secret123"},
	})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.NotNil(t, sessionCookieFrom(rec))
}

func TestLogin(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")

		rec := f.postJSON(t, "/login", map[string]string{
			"username": "alice",
			"password": "Secret123",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "Login successful", resp.Message)
		assert.NotNil(t, sessionCookieFrom(rec))
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")

		rec := f.postJSON(t, "/login", map[string]string{
			"username": "alice",
			"password": "WrongPass1",
		})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "Invalid username/email or password", resp.Error)
		assert.Nil(t, sessionCookieFrom(rec))
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.postJSON(t, "/login", map[string]string{"username": "alice"})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Equal(t, "Username and password are required", resp.Error)
	})

	t.Run("form failure re-renders the login page", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.postForm(t, "/login", url.Values{
			"username": {"ghost"},
			"password": {"Secret123"},
		})

		// Browser clients get the page back with an inline error, not a 401.
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid username/email or password")
	})
}

func TestGuardedRoutes(t *testing.T) {
	t.Run("JSON clients get 401", func(t *testing.T) {
		f := newTestServer(t)

		for _, path := range []string{"/dashboard", "/logout", "/api/user/profile", "/api/dashboard/stats"} {
			rec := f.getJSON(t, path)
			require.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
			assert.Equal(t, "Authentication required", decodeResponse(t, rec).Error)
		}
	})

	t.Run("browsers are redirected to login", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.getHTML(t, "/dashboard")
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("stale session cookie is rejected", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.getJSON(t, "/dashboard", &http.Cookie{Name: "cybernet_session", Value: "bogus"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	f := newTestServer(t)
	cookie := f.register(t, "alice", "alice@example.com", "Secret123")

	rec := f.getJSON(t, "/logout", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Logged out", resp.Message)

	cleared := sessionCookieFrom(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// The token is dead, so the guarded surface rejects it now.
	rec = f.getJSON(t, "/dashboard", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserProfile(t *testing.T) {
	f := newTestServer(t)
	cookie := f.register(t, "alice", "alice@example.com", "Secret123")

	rec := f.getJSON(t, "/api/user/profile", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile struct {
		Username  string  `json:"username"`
		Email     string  `json:"email"`
		CreatedAt string  `json:"created_at"`
		LastLogin *string `json:"last_login"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.NotEmpty(t, profile.CreatedAt)
	assert.Nil(t, profile.LastLogin, "fresh registration has no prior login")

	// A login stamps last_login.
	loginRec := f.postJSON(t, "/login", map[string]string{"username": "alice", "password": "Secret123"})
	require.Equal(t, http.StatusOK, loginRec.Code)
	rec = f.getJSON(t, "/api/user/profile", sessionCookieFrom(loginRec))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.NotNil(t, profile.LastLogin)
}

func TestDashboardStats(t *testing.T) {
	f := newTestServer(t)
	cookie := f.register(t, "alice", "alice@example.com", "Secret123")

	rec := f.getJSON(t, "/api/dashboard/stats", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "Active", stats["neural_interface_status"])
	assert.Equal(t, "Maximum", stats["security_level"])
	assert.Equal(t, float64(42), stats["network_connections"])
	assert.Equal(t, "2.4 TB", stats["data_processed"])
	assert.Equal(t, "99.9%", stats["uptime"])
}

func TestNotFound(t *testing.T) {
	f := newTestServer(t)

	rec := f.getJSON(t, "/no-such-node")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeResponse(t, rec).Error)

	rec = f.getHTML(t, "/no-such-node")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not exist")
}

func TestResetRequest(t *testing.T) {
	t.Run("known and unknown emails answer identically", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")

		known := f.postJSON(t, "/reset-password", map[string]string{"email": "alice@example.com"})
		unknown := f.postJSON(t, "/reset-password", map[string]string{"email": "nobody@example.com"})

		require.Equal(t, http.StatusOK, known.Code)
		require.Equal(t, http.StatusOK, unknown.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())
		assert.Equal(t, "If the email exists, a reset link has been sent", decodeResponse(t, known).Message)

		// Only the real account got mail.
		assert.Equal(t, 1, f.notifier.count())
	})

	t.Run("missing email", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.postJSON(t, "/reset-password", map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Email address is required", decodeResponse(t, rec).Error)
	})

	t.Run("mail failure gets the send-specific message", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")
		// Shaped like a real SMTP delivery failure: oops-wrapped with
		// transport context, no code of its own.
		f.notifier.failWith = oops.With("smtp_addr", "smtp.test:587").
			Wrap(errors.New("connection refused"))

		rec := f.postJSON(t, "/reset-password", map[string]string{"email": "alice@example.com"})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to send email. Please try again.", decodeResponse(t, rec).Error)
	})
}

// resetToken pulls the opaque token out of the link the notifier captured.
func (f *fixture) resetToken(t *testing.T) string {
	t.Helper()
	mail, ok := f.notifier.last()
	require.True(t, ok, "no reset mail was sent")
	token := strings.TrimPrefix(mail.link, testBaseURL+"/reset-password/")
	require.NotEqual(t, mail.link, token, "unexpected link shape: %s", mail.link)
	return token
}

func TestResetConfirm(t *testing.T) {
	t.Run("full flow installs the new password", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")

		require.Equal(t, http.StatusOK,
			f.postJSON(t, "/reset-password", map[string]string{"email": "alice@example.com"}).Code)
		token := f.resetToken(t)

		// The confirm page renders for a live token.
		page := f.getHTML(t, "/reset-password/"+token)
		require.Equal(t, http.StatusOK, page.Code)
		assert.Contains(t, page.Body.String(), token)

		rec := f.postJSON(t, "/reset-password/"+token, map[string]string{
			"password":         "Renewed456",
			"confirm_password": "Renewed456",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Password updated successfully", decodeResponse(t, rec).Message)

		// Old password is dead, new one works.
		old := f.postJSON(t, "/login", map[string]string{"username": "alice", "password": "Secret123"})
		assert.Equal(t, http.StatusUnauthorized, old.Code)
		fresh := f.postJSON(t, "/login", map[string]string{"username": "alice", "password": "Renewed456"})
		assert.Equal(t, http.StatusOK, fresh.Code)

		// The token was single-use.
		again := f.postJSON(t, "/reset-password/"+token, map[string]string{
			"password":         "Another789",
			"confirm_password": "Another789",
		})
		require.Equal(t, http.StatusBadRequest, again.Code)
		assert.Equal(t, "Invalid or expired reset link", decodeResponse(t, again).Error)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		f := newTestServer(t)

		rec := f.getJSON(t, "/reset-password/deadbeef")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid or expired reset link", decodeResponse(t, rec).Error)

		page := f.getHTML(t, "/reset-password/deadbeef")
		require.Equal(t, http.StatusSeeOther, page.Code)
		assert.Equal(t, "/reset-password", page.Header().Get("Location"))
	})

	t.Run("malformed body negotiates like the rest of the flow", func(t *testing.T) {
		f := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/reset-password/sometoken", strings.NewReader("%zz"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		// Browser clients go back to the confirm page with a flash.
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/reset-password/sometoken", rec.Header().Get("Location"))

		req = httptest.NewRequest(http.MethodPost, "/reset-password/sometoken", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		rec = httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Malformed request body", decodeResponse(t, rec).Error)
	})

	t.Run("weak replacement password keeps the token alive", func(t *testing.T) {
		f := newTestServer(t)
		f.register(t, "alice", "alice@example.com", "Secret123")
		require.Equal(t, http.StatusOK,
			f.postJSON(t, "/reset-password", map[string]string{"email": "alice@example.com"}).Code)
		token := f.resetToken(t)

		rec := f.postJSON(t, "/reset-password/"+token, map[string]string{
			"password":         "short",
			"confirm_password": "short",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeResponse(t, rec).Error, "Password must be at least 8 characters long")

		// The token still redeems afterwards.
		rec = f.postJSON(t, "/reset-password/"+token, map[string]string{
			"password":         "Renewed456",
			"confirm_password": "Renewed456",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
