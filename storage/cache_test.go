package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"communityhub/domain"
)

type fakeBackend struct {
	events    []domain.Event
	listCalls int
	getCalls  int
}

func (f *fakeBackend) ListEvents(ctx context.Context, _ domain.EventFilter) ([]domain.Event, error) {
	f.listCalls++
	return f.events, nil
}

func (f *fakeBackend) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	f.getCalls++
	for i := range f.events {
		if f.events[i].ID == id {
			return &f.events[i], nil
		}
	}
	return nil, nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, rc
}

func TestListEventsReadThrough(t *testing.T) {
	_, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E", Title: "Meetup"}}}
	c := NewCache(base, rc, time.Minute)

	f := domain.EventFilter{Limit: 20}
	events, err := c.ListEvents(context.Background(), f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != "E" {
		t.Fatalf("unexpected events %+v", events)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected 1 backend call, got %d", base.listCalls)
	}

	// Second read must come from the cache.
	if _, err := c.ListEvents(context.Background(), f); err != nil {
		t.Fatalf("list: %v", err)
	}
	if base.listCalls != 1 {
		t.Fatalf("expected cached read, backend called %d times", base.listCalls)
	}
}

func TestListKeyVariesWithFilters(t *testing.T) {
	_, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E"}}}
	c := NewCache(base, rc, time.Minute)

	ctx := context.Background()
	if _, err := c.ListEvents(ctx, domain.EventFilter{Limit: 20}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.ListEvents(ctx, domain.EventFilter{Limit: 20, Category: domain.CategoryMusic}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.ListEvents(ctx, domain.EventFilter{Limit: 20, Page: 1}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if base.listCalls != 3 {
		t.Fatalf("distinct filters must miss separately, got %d backend calls", base.listCalls)
	}
}

func TestListKeyVariesWithSearchAndTimeBounds(t *testing.T) {
	after := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	base := eventListKey(domain.EventFilter{Limit: 20})
	variants := []domain.EventFilter{
		{Limit: 20, Search: "gopher"},
		{Limit: 20, StartsAfter: after},
		{Limit: 20, StartsBefore: before},
		{Limit: 20, StartsAfter: after, StartsBefore: before},
	}
	seen := map[string]bool{base: true}
	for _, f := range variants {
		key := eventListKey(f)
		if seen[key] {
			t.Fatalf("filter %+v collides with another key %s", f, key)
		}
		seen[key] = true
		if key != eventListKey(f) {
			t.Fatalf("key for %+v is not deterministic", f)
		}
	}
}

func TestGetEventReadThrough(t *testing.T) {
	_, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E", Title: "Meetup"}}}
	c := NewCache(base, rc, time.Minute)

	ctx := context.Background()
	ev, err := c.GetEvent(ctx, "E")
	if err != nil || ev == nil {
		t.Fatalf("get: %v %v", ev, err)
	}
	if _, err := c.GetEvent(ctx, "E"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected cached detail read, backend called %d times", base.getCalls)
	}

	// Missing events are not cached.
	if ev, err := c.GetEvent(ctx, "missing"); err != nil || ev != nil {
		t.Fatalf("expected nil for missing event, got %v %v", ev, err)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected backend hit for missing event")
	}
}

func TestInvalidateEventListsRemovesOnlyListKeys(t *testing.T) {
	m, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E"}}}
	c := NewCache(base, rc, time.Minute)

	ctx := context.Background()
	if _, err := c.ListEvents(ctx, domain.EventFilter{Limit: 20}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.GetEvent(ctx, "E"); err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := c.InvalidateEventLists(ctx); err != nil {
		t.Fatalf("invalidate lists: %v", err)
	}
	keys := m.Keys()
	for _, k := range keys {
		if k != "events:detail:E" {
			t.Fatalf("unexpected surviving key %s", k)
		}
	}
	if len(keys) != 1 {
		t.Fatalf("detail entry should survive list invalidation, keys: %v", keys)
	}
}

func TestInvalidateEventRemovesDetailKey(t *testing.T) {
	m, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E"}}}
	c := NewCache(base, rc, time.Minute)

	ctx := context.Background()
	if _, err := c.GetEvent(ctx, "E"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := c.InvalidateEvent(ctx, "E"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if m.Exists("events:detail:E") {
		t.Fatal("detail key should be gone")
	}
}

func TestRedisOutageFallsBackToStorage(t *testing.T) {
	m, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E"}}}
	c := NewCache(base, rc, time.Minute)
	m.Close()

	events, err := c.ListEvents(context.Background(), domain.EventFilter{Limit: 20})
	if err != nil {
		t.Fatalf("cache outage must not fail the read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected storage fallback result, got %+v", events)
	}
}

func TestCorruptCacheEntryIsDropped(t *testing.T) {
	m, rc := setupRedis(t)
	base := &fakeBackend{events: []domain.Event{{ID: "E"}}}
	c := NewCache(base, rc, time.Minute)

	if err := m.Set("events:detail:E", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ev, err := c.GetEvent(context.Background(), "E")
	if err != nil || ev == nil {
		t.Fatalf("expected storage fallback, got %v %v", ev, err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected backend hit after corrupt entry")
	}
}
