// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cybernet/cybernet/pkg/errutil"
)

// profileResponse is the payload for GET /api/user/profile.
type profileResponse struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	CreatedAt string  `json:"created_at"`
	LastLogin *string `json:"last_login"`
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	user, err := s.auth.GetUser(r.Context(), id.UserID)
	if err != nil {
		errutil.LogError(s.logger, "loading profile", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "Failed to load profile"})
		return
	}

	resp := profileResponse{
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
	if user.LastLogin != nil {
		last := user.LastLogin.Format(time.RFC3339)
		resp.LastLogin = &last
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	//nolint:errcheck // nothing useful to do if the client went away
	json.NewEncoder(w).Encode(resp)
}

// handleDashboardStats serves the static demo statistics shown on the
// dashboard. The numbers are intentionally canned; only active_sessions
// reflects real state when metrics are wired.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"neural_interface_status": "Active",
		"security_level":          "Maximum",
		"network_connections":     42,
		"data_processed":          "2.4 TB",
		"uptime":                  "99.9%",
		"active_sessions":         7,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	//nolint:errcheck // nothing useful to do if the client went away
	json.NewEncoder(w).Encode(stats)
}
