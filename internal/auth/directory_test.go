package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

func TestCurrentUserServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// No database behind this directory: a hit proves the cache short-circuits.
	dir := NewDirectory(nil, client, time.Minute)

	raw, err := json.Marshal(cachedActor{ID: 7, Role: shared.RoleManager, OutletID: 3})
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), cacheKey(7), raw, time.Minute).Err())

	actor, err := dir.CurrentUser(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{ID: 7, Role: shared.RoleManager, OutletID: 3}, actor)
}

func TestCurrentUserRejectsMissingIdentity(t *testing.T) {
	dir := NewDirectory(nil, nil, 0)
	_, err := dir.CurrentUser(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	dir := NewDirectory(nil, client, time.Minute)

	raw, _ := json.Marshal(cachedActor{ID: 7, Role: shared.RoleAdmin})
	require.NoError(t, client.Set(context.Background(), cacheKey(7), raw, time.Minute).Err())

	require.NoError(t, dir.Invalidate(context.Background(), 7))
	require.False(t, mr.Exists(cacheKey(7)))
}

type stubResolver struct {
	actor shared.Actor
	err   error
}

func (s *stubResolver) CurrentUser(ctx context.Context, userID int64) (shared.Actor, error) {
	if s.err != nil {
		return shared.Actor{}, s.err
	}
	actor := s.actor
	actor.ID = userID
	return actor, nil
}

func TestMiddlewareResolvesActor(t *testing.T) {
	var seen shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(&stubResolver{actor: shared.Actor{Role: shared.RoleManager, OutletID: 2}})(next)

	req := httptest.NewRequest(http.MethodGet, "/inventory/balances", nil)
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(42), seen.ID)
	require.Equal(t, shared.RoleManager, seen.Role)
}

func TestMiddlewareRejectsBadHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without identity")
	})
	handler := Middleware(&stubResolver{})(next)

	for _, value := range []string{"", "abc", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/inventory/balances", nil)
		if value != "" {
			req.Header.Set("X-User-ID", value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	}
}
