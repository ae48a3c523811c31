// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package web_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cybernet/cybernet/internal/auth"
)

// In-memory backends with the same conflict, not-found, and single-use
// semantics as the postgres and redis implementations, so handler tests
// exercise the real service layer end to end.

type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return fmt.Errorf("duplicate user: %w", auth.ErrConflict)
		}
	}
	c := *user
	r.users[user.ID] = &c
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lowered := auth.NormalizeEmail(identifier)
	for _, u := range r.users {
		if u.Username == identifier || u.Email == lowered {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lowered := auth.NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email == lowered {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return auth.ErrNotFound
	}
	c := *user
	r.users[user.ID] = &c
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*auth.Session)}
}

func (s *memSessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.TokenHash] = &c
	return nil
}

func (s *memSessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[tokenHash]; ok {
		c := *sess
		return &c, nil
	}
	return nil, auth.ErrNotFound
}

func (s *memSessionStore) UpdateLastSeen(_ context.Context, tokenHash string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[tokenHash]; ok {
		sess.LastSeenAt = lastSeen
		return nil
	}
	return auth.ErrNotFound
}

func (s *memSessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tokenHash]; !ok {
		return auth.ErrNotFound
	}
	delete(s.sessions, tokenHash)
	return nil
}

func (s *memSessionStore) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, hash)
		}
	}
	return nil
}

type memResetRepo struct {
	mu     sync.Mutex
	resets map[ulid.ULID]*auth.PasswordReset
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{resets: make(map[ulid.ULID]*auth.PasswordReset)}
}

func (r *memResetRepo) Create(_ context.Context, reset *auth.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *reset
	r.resets[reset.ID] = &c
	return nil
}

func (r *memResetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.resets {
		if reset.TokenHash == tokenHash && !reset.Used {
			c := *reset
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memResetRepo) Consume(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.resets[id]
	if !ok || reset.Used || reset.IsExpired() {
		return auth.ErrNotFound
	}
	reset.Used = true
	return nil
}

func (r *memResetRepo) InvalidateByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, reset := range r.resets {
		if reset.UserID == userID && !reset.Used {
			reset.Used = true
			n++
		}
	}
	return n, nil
}

// fakeNotifier records the reset mail the handlers cause to be sent and can
// be told to fail the way the SMTP mailer does.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMail
	failWith error
}

type sentMail struct {
	email string
	link  string
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, email, resetLink string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.sent = append(n.sent, sentMail{email: email, link: resetLink})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) last() (sentMail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentMail{}, false
	}
	return n.sent[len(n.sent)-1], true
}

type passTransactor struct{}

func (passTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
