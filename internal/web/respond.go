// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cybernet/cybernet/pkg/errutil"
)

// envelope is the JSON response body for API-style requests. Errors carries
// per-field validation messages; Error carries a single failure message.
type envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// wantsJSON reports whether the request expects a JSON response rather than
// a rendered page. JSON bodies and JSON Accept headers both count.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // nothing useful to do if the client went away
	json.NewEncoder(w).Encode(body)
}

// violationsOf returns the per-field messages attached to a validation
// error, or nil when the error carries none.
func violationsOf(err error) []string {
	if v, ok := errutil.ContextValue(err, "errors").([]string); ok {
		return v
	}
	return nil
}

// flash is a one-shot message surfaced on the next rendered page.
type flash struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

const flashCookie = "cybernet_flash"

// setFlash stores a one-shot message in a short-lived cookie.
func setFlash(w http.ResponseWriter, message, category string) {
	raw, err := json.Marshal(flash{Message: message, Category: category})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.URLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash reads and clears the flash cookie. Returns a zero flash when
// none is set or the cookie is malformed.
func popFlash(w http.ResponseWriter, r *http.Request) flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return flash{}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.URLEncoding.DecodeString(c.Value)
	if err != nil {
		return flash{}
	}
	var f flash
	if err := json.Unmarshal(raw, &f); err != nil {
		return flash{}
	}
	return f
}
