// Package auth adapts the external identity collaborator: it resolves a
// caller id into an Actor with role and outlet scope. Authentication
// itself (passwords, sessions) is not handled here.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// DefaultCacheTTL bounds how stale a cached role/outlet assignment can be.
const DefaultCacheTTL = 5 * time.Minute

// Directory resolves user ids to actors, fronted by a redis cache.
type Directory struct {
	pool  *pgxpool.Pool
	cache *redis.Client
	ttl   time.Duration
}

// NewDirectory constructs Directory. cache may be nil, in which case every
// lookup hits the database.
func NewDirectory(pool *pgxpool.Pool, cache *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{pool: pool, cache: cache, ttl: ttl}
}

type cachedActor struct {
	ID       int64       `json:"id"`
	Role     shared.Role `json:"role"`
	OutletID int64       `json:"outlet_id"`
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("actor:%d", userID)
}

// CurrentUser resolves the caller. Unknown or inactive users come back as
// ErrForbidden so handlers never have to distinguish the two.
func (d *Directory) CurrentUser(ctx context.Context, userID int64) (shared.Actor, error) {
	if d == nil {
		return shared.Actor{}, errors.New("auth directory not initialised")
	}
	if userID == 0 {
		return shared.Actor{}, fmt.Errorf("%w: missing caller identity", shared.ErrForbidden)
	}

	if d.cache != nil {
		raw, err := d.cache.Get(ctx, cacheKey(userID)).Bytes()
		if err == nil {
			var cached cachedActor
			if json.Unmarshal(raw, &cached) == nil {
				return shared.Actor{ID: cached.ID, Role: cached.Role, OutletID: cached.OutletID}, nil
			}
		}
	}

	var role string
	var outletID int64
	var active bool
	err := d.pool.QueryRow(ctx, `SELECT role, COALESCE(outlet_id, 0), is_active FROM users WHERE id=$1`, userID).
		Scan(&role, &outletID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Actor{}, fmt.Errorf("%w: unknown user %d", shared.ErrForbidden, userID)
		}
		return shared.Actor{}, err
	}
	if !active {
		return shared.Actor{}, fmt.Errorf("%w: user %d is deactivated", shared.ErrForbidden, userID)
	}
	actor := shared.Actor{ID: userID, Role: shared.Role(role), OutletID: outletID}
	if !actor.Role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: user %d has unknown role %q", shared.ErrForbidden, userID, role)
	}

	if d.cache != nil {
		if raw, err := json.Marshal(cachedActor{ID: actor.ID, Role: actor.Role, OutletID: actor.OutletID}); err == nil {
			_ = d.cache.Set(ctx, cacheKey(userID), raw, d.ttl).Err()
		}
	}
	return actor, nil
}

// Invalidate drops the cached assignment, for role or outlet changes.
func (d *Directory) Invalidate(ctx context.Context, userID int64) error {
	if d == nil || d.cache == nil {
		return nil
	}
	return d.cache.Del(ctx, cacheKey(userID)).Err()
}
