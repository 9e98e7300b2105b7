package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func setupLimiterRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		client.Close()
		m.Close()
	})
	return m, client
}

func TestRateLimiterAllowWithinBudget(t *testing.T) {
	_, client := setupLimiterRedis(t)
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(client, 3, time.Hour, logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be within budget", i+1)
		}
	}
	ok, err := rl.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("fourth request should exceed the budget")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	_, client := setupLimiterRedis(t)
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(client, 1, time.Hour, logger)
	ctx := context.Background()

	if ok, _ := rl.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatal("first client's first request should pass")
	}
	if ok, _ := rl.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("a different client must have its own budget")
	}
	if ok, _ := rl.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("first client's second request should be blocked")
	}
}

func TestRateLimiterSubSecondWindow(t *testing.T) {
	_, client := setupLimiterRedis(t)
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(client, 3, 500*time.Millisecond, logger)
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !ok {
		t.Fatal("first request in a sub-second window should pass")
	}
	for i := 0; i < 3; i++ {
		if _, err := rl.Allow(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	m, client := setupLimiterRedis(t)
	logger, hook := test.NewNullLogger()
	rl := NewRateLimiter(client, 1, time.Hour, logger)
	m.Close()

	e := echo.New()
	handler := rl.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", rec.Code)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "rate limiter unavailable, allowing request" {
		t.Fatalf("expected fail-open warning, got %+v", entry)
	}
}

func TestRateLimiterMiddlewareBlocks(t *testing.T) {
	_, client := setupLimiterRedis(t)
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(client, 1, time.Hour, logger)

	e := echo.New()
	handler := rl.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rec.Code)
		}
	}
}
