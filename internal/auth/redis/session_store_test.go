// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybernet/cybernet/internal/auth"
	authredis "github.com/cybernet/cybernet/internal/auth/redis"
)

func newTestStore(t *testing.T) (*authredis.SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return authredis.NewSessionStore(client), mr
}

func newStoredSession(t *testing.T, store *authredis.SessionStore, userID ulid.ULID) *auth.Session {
	t.Helper()
	_, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	session, err := auth.NewSession(userID, "alice", hash, "agent", "10.0.0.1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), session))
	return session
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	userID := ulid.Make()

	session := newStoredSession(t, store, userID)

	got, err := store.GetByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, session.TokenHash, got.TokenHash)

	t.Run("record carries a TTL", func(t *testing.T) {
		ttl := mr.TTL("cybernet:sess:" + session.TokenHash)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Hour)
	})

	t.Run("rejects already-expired session", func(t *testing.T) {
		expired := *session
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		assert.Error(t, store.Create(ctx, &expired))
	})
}

func TestSessionStoreGetUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetByTokenHash(context.Background(), "missinghash")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	session := newStoredSession(t, store, ulid.Make())

	mr.FastForward(2 * time.Hour)

	_, err := store.GetByTokenHash(ctx, session.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionStoreUpdateLastSeen(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	session := newStoredSession(t, store, ulid.Make())

	seen := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	require.NoError(t, store.UpdateLastSeen(ctx, session.TokenHash, seen))

	got, err := store.GetByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.WithinDuration(t, seen, got.LastSeenAt, time.Second)

	t.Run("unknown session errors", func(t *testing.T) {
		err := store.UpdateLastSeen(ctx, "missinghash", time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	session := newStoredSession(t, store, ulid.Make())

	require.NoError(t, store.Delete(ctx, session.TokenHash))

	_, err := store.GetByTokenHash(ctx, session.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	t.Run("second delete reports not found", func(t *testing.T) {
		assert.ErrorIs(t, store.Delete(ctx, session.TokenHash), auth.ErrNotFound)
	})
}

func TestSessionStoreDeleteByUser(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	userID := ulid.Make()
	otherID := ulid.Make()

	first := newStoredSession(t, store, userID)
	second := newStoredSession(t, store, userID)
	other := newStoredSession(t, store, otherID)

	require.NoError(t, store.DeleteByUser(ctx, userID))

	_, err := store.GetByTokenHash(ctx, first.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = store.GetByTokenHash(ctx, second.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	// Unrelated user's session survives.
	_, err = store.GetByTokenHash(ctx, other.TokenHash)
	assert.NoError(t, err)

	t.Run("no sessions is a no-op", func(t *testing.T) {
		assert.NoError(t, store.DeleteByUser(ctx, ulid.Make()))
	})
}
