// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/cybernet/cybernet/internal/auth"
)

//go:embed templates/*.html
var templatesFS embed.FS

// pageData carries everything the layout and page templates can reference.
type pageData struct {
	Title       string
	Flash       flash
	Username    string
	User        *auth.User
	Token       string
	ErrorDetail string
}

// parsePages builds one template set per page, each composed with the
// shared layout. Malformed templates fail here, at startup.
func parsePages() (map[string]*template.Template, error) {
	names := []string{
		"index", "register", "login", "dashboard",
		"reset_password", "reset_password_confirm", "error",
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := template.ParseFS(templatesFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data pageData) {
	t, ok := s.pages[page]
	if !ok {
		slog.Error("unknown page template", "page", page)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		slog.Error("rendering page", "page", page, "error", err)
	}
}
