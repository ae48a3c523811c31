// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cybernet/cybernet/pkg/errutil"
)

// credentialsForm is the shared shape of the auth POST bodies. Handlers
// use whichever fields apply to them.
type credentialsForm struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// decodeForm reads a JSON or urlencoded body into a credentialsForm.
// Username and email are whitespace-trimmed like the rest of the app
// expects; passwords are taken verbatim.
func decodeForm(r *http.Request) (credentialsForm, error) {
	var f credentialsForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			return f, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return f, err
		}
		f.Username = r.PostFormValue("username")
		f.Email = r.PostFormValue("email")
		f.Password = r.PostFormValue("password")
		f.ConfirmPassword = r.PostFormValue("confirm_password")
	}
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	return f, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, _ := s.currentIdentity(r)
	s.render(w, http.StatusOK, "index", pageData{
		Title:    "Home",
		Flash:    popFlash(w, r),
		Username: id.Username,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: "Not found"})
		return
	}
	s.render(w, http.StatusNotFound, "error", pageData{
		Title:       "404",
		ErrorDetail: "The node you were looking for does not exist.",
	})
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "register", pageData{Title: "Register", Flash: popFlash(w, r)})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	f, err := decodeForm(r)
	if err != nil {
		s.registerFailure(w, r, http.StatusBadRequest, []string{"Malformed request body"})
		return
	}

	_, sess, token, err := s.auth.Register(r.Context(), f.Username, f.Email, f.Password, f.ConfirmPassword, r.UserAgent(), clientIP(r))
	if err != nil {
		switch errutil.CodeOf(err) {
		case "VALIDATION_FAILED", "CONFLICT":
			msgs := violationsOf(err)
			if len(msgs) == 0 {
				msgs = []string{err.Error()}
			}
			s.registerFailure(w, r, http.StatusBadRequest, msgs)
		default:
			errutil.LogError(s.logger, "registration failed", err)
			s.registerFailure(w, r, http.StatusInternalServerError, []string{"Registration failed. Please try again."})
		}
		return
	}

	s.setSessionCookie(w, token, sess.ExpiresAt)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Registration successful"})
		return
	}
	setFlash(w, "Welcome to CyberNet! Registration successful.", "success")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) registerFailure(w http.ResponseWriter, r *http.Request, status int, msgs []string) {
	if wantsJSON(r) {
		writeJSON(w, status, envelope{Success: false, Errors: msgs})
		return
	}
	setFlash(w, strings.Join(msgs, " "), "error")
	http.Redirect(w, r, "/register", http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login", pageData{Title: "Login", Flash: popFlash(w, r)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	f, err := decodeForm(r)
	if err != nil || f.Username == "" || f.Password == "" {
		s.recordLogin("invalid")
		s.loginFailure(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	sess, token, err := s.auth.Login(r.Context(), f.Username, f.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		code := errutil.CodeOf(err)
		switch code {
		case "AUTH_INVALID_CREDENTIALS":
			s.recordLogin("invalid")
			s.loginFailure(w, r, http.StatusUnauthorized, "Invalid username/email or password")
		case "AUTH_ACCOUNT_DEACTIVATED":
			s.recordLogin("deactivated")
			s.loginFailure(w, r, http.StatusBadRequest, "Your account has been deactivated")
		case "AUTH_ACCOUNT_LOCKED":
			s.recordLogin("locked")
			s.loginFailure(w, r, http.StatusForbidden, "Account temporarily locked. Try again later.")
		default:
			s.recordLogin("error")
			errutil.LogError(s.logger, "login failed", err)
			s.loginFailure(w, r, http.StatusInternalServerError, "Something went wrong. Please try again.")
		}
		return
	}

	s.recordLogin("success")
	s.setSessionCookie(w, token, sess.ExpiresAt)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Login successful"})
		return
	}
	setFlash(w, "Welcome back, "+sess.Username+"!", "success")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) loginFailure(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if wantsJSON(r) {
		writeJSON(w, status, envelope{Success: false, Error: msg})
		return
	}
	s.render(w, http.StatusOK, "login", pageData{
		Title: "Login",
		Flash: flash{Message: msg, Category: "error"},
	})
}

func (s *Server) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	if err := s.auth.Logout(r.Context(), id.SessionToken); err != nil {
		errutil.LogError(s.logger, "logout failed", err)
	}
	s.clearSessionCookie(w)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Logged out"})
		return
	}
	setFlash(w, "Goodbye, "+id.Username+"! You have been logged out.", "info")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	user, err := s.auth.GetUser(r.Context(), id.UserID)
	if err != nil {
		errutil.LogError(s.logger, "loading dashboard user", err)
		s.render(w, http.StatusInternalServerError, "error", pageData{
			Title:       "500",
			ErrorDetail: "Something went wrong. Please try again.",
		})
		return
	}
	s.render(w, http.StatusOK, "dashboard", pageData{
		Title:    "Dashboard",
		Flash:    popFlash(w, r),
		Username: user.Username,
		User:     user,
	})
}

func (s *Server) handleResetRequestPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "reset_password", pageData{Title: "Reset Password", Flash: popFlash(w, r)})
}

// Matching success responses regardless of whether the email is known, so
// this endpoint cannot be used to probe for registered addresses.
const resetRequestedMsg = "If the email exists, a reset link has been sent"

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	f, err := decodeForm(r)
	if err != nil || f.Email == "" {
		if wantsJSON(r) {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "Email address is required"})
			return
		}
		setFlash(w, "Email address is required", "error")
		http.Redirect(w, r, "/reset-password", http.StatusSeeOther)
		return
	}

	s.recordReset("requested")
	if err := s.resets.RequestReset(r.Context(), f.Email, s.resetLink); err != nil {
		errutil.LogError(s.logger, "password reset request failed", err)
		msg := "Failed to process request. Please try again."
		if errutil.CodeOf(err) == "NOTIFY_FAILED" {
			msg = "Failed to send email. Please try again."
		}
		if wantsJSON(r) {
			writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: msg})
			return
		}
		setFlash(w, msg, "error")
		http.Redirect(w, r, "/reset-password", http.StatusSeeOther)
		return
	}

	s.recordReset("sent")
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: resetRequestedMsg})
		return
	}
	setFlash(w, resetRequestedMsg, "info")
	http.Redirect(w, r, "/reset-password", http.StatusSeeOther)
}

func (s *Server) handleResetConfirmPage(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if _, err := s.resets.ValidateToken(r.Context(), token); err != nil {
		s.rejectResetToken(w, r)
		return
	}
	s.render(w, http.StatusOK, "reset_password_confirm", pageData{
		Title: "New Password",
		Flash: popFlash(w, r),
		Token: token,
	})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	f, err := decodeForm(r)
	if err != nil {
		if wantsJSON(r) {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "Malformed request body"})
			return
		}
		setFlash(w, "Malformed request body", "error")
		http.Redirect(w, r, "/reset-password/"+token, http.StatusSeeOther)
		return
	}

	if err := s.resets.ConfirmReset(r.Context(), token, f.Password, f.ConfirmPassword); err != nil {
		switch errutil.CodeOf(err) {
		case "RESET_TOKEN_INVALID":
			s.rejectResetToken(w, r)
		case "VALIDATION_FAILED", "AUTH_WEAK_PASSWORD":
			msg := err.Error()
			if msgs := violationsOf(err); len(msgs) > 0 {
				msg = strings.Join(msgs, " ")
			}
			if wantsJSON(r) {
				writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: msg})
				return
			}
			s.render(w, http.StatusOK, "reset_password_confirm", pageData{
				Title: "New Password",
				Flash: flash{Message: msg, Category: "error"},
				Token: token,
			})
		default:
			errutil.LogError(s.logger, "password reset confirm failed", err)
			if wantsJSON(r) {
				writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "Failed to update password"})
				return
			}
			setFlash(w, "Failed to update password. Please try again.", "error")
			http.Redirect(w, r, "/reset-password/"+token, http.StatusSeeOther)
		}
		return
	}

	s.recordReset("confirmed")
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Password updated successfully"})
		return
	}
	setFlash(w, "Password has been updated successfully. You can now log in.", "success")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// rejectResetToken handles any invalid, expired, or already-used token the
// same way so callers learn nothing about which case they hit.
func (s *Server) rejectResetToken(w http.ResponseWriter, r *http.Request) {
	s.recordReset("rejected")
	if wantsJSON(r) {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "Invalid or expired reset link"})
		return
	}
	setFlash(w, "Invalid or expired reset link", "error")
	http.Redirect(w, r, "/reset-password", http.StatusSeeOther)
}

func (s *Server) recordReset(stage string) {
	if s.metrics != nil {
		s.metrics.PasswordResetsTotal.WithLabelValues(stage).Inc()
	}
}
