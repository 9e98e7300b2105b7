package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"communityhub/domain"
)

type backend interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
}

// Cache wraps a Storage instance with Redis-backed read-through caching for
// the event list and detail queries. The cache is best-effort: any Redis
// failure falls back to the backing storage, and TTL expiry is only a
// backstop for missed invalidations, not the consistency mechanism.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

// ListEvents serves the list query from cache when possible, repopulating
// the entry on a miss.
func (c *Cache) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	key := eventListKey(f)
	if events, ok := c.loadEvents(ctx, key); ok {
		return events, nil
	}
	events, err := c.base.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, events)
	return events, nil
}

// GetEvent serves the detail query from cache when possible.
func (c *Cache) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	key := eventDetailKey(id)
	if ev, ok := c.loadEvent(ctx, key); ok {
		return ev, nil
	}
	ev, err := c.base.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev != nil {
		c.store(ctx, key, ev)
	}
	return ev, nil
}

// InvalidateEventLists deletes every cached list page. Called on mutations
// that change which events appear in a listing.
func (c *Cache) InvalidateEventLists(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, "events:list:*", 100).Iterator()
	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// InvalidateEvent deletes the cached detail entry for one event.
func (c *Cache) InvalidateEvent(ctx context.Context, eventID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, eventDetailKey(eventID)).Err()
}

func (c *Cache) loadEvents(ctx context.Context, key string) ([]domain.Event, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		// Corrupt entry; drop it and fall through to storage.
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return events, true
}

func (c *Cache) loadEvent(ctx context.Context, key string) (*domain.Event, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return &ev, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// Cache key scheme:
//
//	events:list:{page}:{filtersHash}  one entry per list page and filter set
//	events:detail:{eventID}           one entry per event
//
// filtersHash is the md5 of the canonical filter string, so the same query
// always maps to the same key.
func eventListKey(f domain.EventFilter) string {
	canonical := f.CreatedBy + "|" + f.Category + "|" + f.Search + "|" +
		canonicalTime(f.StartsAfter) + "|" + canonicalTime(f.StartsBefore) + "|" +
		strconv.Itoa(f.Limit)
	sum := md5.Sum([]byte(canonical))
	return fmt.Sprintf("events:list:%d:%s", f.Page, hex.EncodeToString(sum[:]))
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func eventDetailKey(eventID string) string {
	return "events:detail:" + eventID
}
