package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// Store backs both the Place Cache and the Quota Counter with one Redis
// client. Both are external, atomically-updated stores; races are benign
// (at most one redundant paid call) and not corrected.
type Store struct {
	c *redis.Client
}

func New(addr, pass string, db int) *Store {
	return &Store{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

// NewWithClient is used by tests (miniredis).
func NewWithClient(c *redis.Client) *Store { return &Store{c: c} }

// ---- Place Cache ----

// cacheKey buckets the coordinate at 5 decimals (~1.1 m). Near-identical
// pins collapse to one entry; coarser would conflate distinct venues.
func cacheKey(at domain.Coords) string {
	return "place:" + at.String()
}

func (s *Store) Get(ctx context.Context, at domain.Coords, ttlDays int) (domain.CacheEntry, bool, error) {
	v, err := s.c.Get(ctx, cacheKey(at)).Bytes()
	if err == redis.Nil {
		observability.ObserveCache("place", "miss")
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return domain.CacheEntry{}, false, err
	}
	// Read-side TTL: stale entries count as misses and are left for the
	// next Put to overwrite.
	if ttlDays > 0 && time.Since(e.InsertedAt) > time.Duration(ttlDays)*24*time.Hour {
		observability.ObserveCache("place", "stale")
		return domain.CacheEntry{}, false, nil
	}
	observability.ObserveCache("place", "hit")
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, at domain.Coords, e domain.CacheEntry) error {
	if e.InsertedAt.IsZero() {
		e.InsertedAt = time.Now().UTC()
	}
	b, _ := json.Marshal(e)
	observability.ObserveCache("place", "set")
	// Redis expiry is only a floor-sweep; the authoritative TTL check
	// happens on Get against InsertedAt.
	return s.c.Set(ctx, cacheKey(at), b, 90*24*time.Hour).Err()
}

// ---- Quota Counter ----

// Quota enforces a per-client daily ceiling. Keyed by (clientKey, UTC date)
// so the counter resets implicitly on day rollover.
type Quota struct {
	s     *Store
	limit int

	// Now is swappable in tests to exercise day rollover.
	Now func() time.Time
}

func NewQuota(s *Store, limit int) *Quota {
	return &Quota{s: s, limit: limit, Now: time.Now}
}

func quotaKey(clientKey string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", clientKey, day.UTC().Format("2006-01-02"))
}

func (q *Quota) CheckAndIncrement(ctx context.Context, clientKey string) (domain.QuotaDecision, error) {
	key := quotaKey(clientKey, q.Now())

	// Once the ceiling is reached, deny without incrementing further.
	if cur, err := q.s.c.Get(ctx, key).Int(); err == nil && cur >= q.limit {
		observability.ObserveQuota("denied")
		return domain.QuotaDecision{Allowed: false, Remaining: 0}, nil
	}

	n, err := q.s.c.Incr(ctx, key).Result()
	if err != nil {
		observability.ObserveQuota("error")
		return domain.QuotaDecision{}, err
	}
	if n == 1 {
		// 48h covers the whole keyed day in any timezone skew.
		_ = q.s.c.Expire(ctx, key, 48*time.Hour).Err()
	}
	if n > int64(q.limit) {
		observability.ObserveQuota("denied")
		return domain.QuotaDecision{Allowed: false, Remaining: 0}, nil
	}
	observability.ObserveQuota("allowed")
	return domain.QuotaDecision{Allowed: true, Remaining: q.limit - int(n)}, nil
}
