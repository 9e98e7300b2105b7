package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"communityhub/api"
	"communityhub/bus"
	"communityhub/notify"
	"communityhub/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsTable := os.Getenv("EVENTS_TABLE")
	rsvpsTable := os.Getenv("RSVPS_TABLE")
	usersTable := os.Getenv("USERS_TABLE")
	eventsQueue := os.Getenv("DOMAIN_EVENTS_QUEUE")
	if connStr == "" || eventsTable == "" || rsvpsTable == "" || usersTable == "" || eventsQueue == "" {
		log.Fatal("missing storage config")
	}
	poisonQueue := os.Getenv("DEADLETTER_QUEUE")

	store, err := storage.New(connStr, eventsTable, rsvpsTable, usersTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	eventBus, err := bus.New(connStr, eventsQueue, poisonQueue)
	if err != nil {
		log.Fatalf("event bus: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	logger := log.New()

	var auth *api.Auth
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		auth = api.NewTestAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	notifyActor := false
	if v, err := strconv.ParseBool(os.Getenv("NOTIFY_ACTOR")); err == nil {
		notifyActor = v
	}
	maxDeliveries := int64(5)
	if v := os.Getenv("EVENTS_MAX_DELIVERIES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			log.Fatalf("invalid EVENTS_MAX_DELIVERIES: %v", err)
		}
		maxDeliveries = n
	}

	registry := notify.NewRegistry()
	publisher := notify.NewPublisher(cached, eventBus, logger, notifyActor)
	consumer := notify.NewConsumer(eventBus, registry, logger, maxDeliveries)

	rateLimit := 30
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid RATE_LIMIT: %v", err)
		}
		rateLimit = n
	}
	limiter := api.NewRateLimiter(rc, rateLimit, time.Minute, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, cached, auth, publisher, registry, limiter, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// redisOptions parses either a redis URL or the comma-separated
// host,password=...,ssl=... form used by managed caches.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
