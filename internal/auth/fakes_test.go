// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package auth_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cybernet/cybernet/internal/auth"
)

// memUserRepo is an in-memory UserRepository with the same conflict and
// not-found semantics as the postgres implementation.
type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User

	// failWith, when set, is returned by every method to simulate a
	// storage outage.
	failWith error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func copyUser(u *auth.User) *auth.User {
	c := *u
	return &c
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return fmt.Errorf("username taken: %w", auth.ErrConflict)
		}
		if existing.Email == user.Email {
			return fmt.Errorf("email taken: %w", auth.ErrConflict)
		}
	}
	r.users[user.ID] = copyUser(user)
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	if u, ok := r.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	lowered := auth.NormalizeEmail(identifier)
	for _, u := range r.users {
		if u.Username == identifier || u.Email == lowered {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	for _, u := range r.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	lowered := auth.NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email == lowered {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if _, ok := r.users[user.ID]; !ok {
		return auth.ErrNotFound
	}
	r.users[user.ID] = copyUser(user)
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

// get returns the stored user for assertions, bypassing error injection.
func (r *memUserRepo) get(id ulid.ULID) *auth.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return copyUser(u)
	}
	return nil
}

// memSessionStore is an in-memory SessionStore.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
	failWith error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*auth.Session)}
}

func (s *memSessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	c := *session
	s.sessions[session.TokenHash] = &c
	return nil
}

func (s *memSessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
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
	if s.failWith != nil {
		return s.failWith
	}
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

func (s *memSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// memResetRepo is an in-memory PasswordResetRepository. Consume applies the
// same conditional-update arbitration as the SQL implementation.
type memResetRepo struct {
	mu       sync.Mutex
	resets   map[ulid.ULID]*auth.PasswordReset
	failWith error
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{resets: make(map[ulid.ULID]*auth.PasswordReset)}
}

func (r *memResetRepo) Create(_ context.Context, reset *auth.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	c := *reset
	r.resets[reset.ID] = &c
	return nil
}

func (r *memResetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
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
	if r.failWith != nil {
		return r.failWith
	}
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
	if r.failWith != nil {
		return 0, r.failWith
	}
	var n int64
	for _, reset := range r.resets {
		if reset.UserID == userID && !reset.Used {
			reset.Used = true
			n++
		}
	}
	return n, nil
}

func (r *memResetRepo) outstanding(userID ulid.ULID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, reset := range r.resets {
		if reset.UserID == userID && !reset.Used {
			n++
		}
	}
	return n
}

// expire backdates every outstanding token for the user, for expiry tests.
func (r *memResetRepo) expire(userID ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.resets {
		if reset.UserID == userID {
			reset.ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
}

// fakeNotifier records sent mail and can be told to fail.
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

func (n *fakeNotifier) last() (sentMail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentMail{}, false
	}
	return n.sent[len(n.sent)-1], true
}

// passTransactor runs the function directly; the in-memory fakes have no
// transactions to join.
type passTransactor struct{}

func (passTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
