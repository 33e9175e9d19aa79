package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event dedup backends. Providers deliver webhooks at-least-once; MarkSeen
// is the replay gate in front of all event processing.

const defaultDedupTTL = 24 * time.Hour

// MemoryDeduper remembers event ids in-process. Good for tests and
// single-node deployments; entries expire lazily.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]time.Time{}, ttl: defaultDedupTTL, now: time.Now}
}

func (d *MemoryDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("lifecycle: event id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[eventID]; ok && now.Sub(at) < d.ttl {
		return false, nil
	}
	if len(d.seen) > 10000 {
		for id, at := range d.seen {
			if now.Sub(at) >= d.ttl {
				delete(d.seen, id)
			}
		}
	}
	d.seen[eventID] = now
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

// RedisDeduper shares the replay gate across processes via SETNX + TTL.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("lifecycle: event id required")
	}
	return d.rdb.SetNX(ctx, "events:seen:"+eventID, 1, d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, "events:seen:"+eventID).Err()
}
