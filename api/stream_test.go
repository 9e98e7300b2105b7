package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"communityhub/notify"
)

// flushRecorder satisfies http.Flusher so the streaming handler can flush
// frames during tests.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (flushRecorder) Flush() {}

func startStream(t *testing.T, auth Authenticator, registry *notify.Registry, target string) (*httptest.ResponseRecorder, context.CancelFunc, chan struct{}) {
	t.Helper()
	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, flushRecorder{rec})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := streamNotifications(auth, registry)(c); err != nil {
			t.Errorf("stream handler error: %v", err)
		}
	}()
	return rec, cancel, done
}

func waitForRegistration(t *testing.T, registry *notify.Registry, userID string) *notify.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conns := registry.Connections(userID); len(conns) > 0 {
			return conns[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection never registered")
	return nil
}

func TestStreamDeliversFrames(t *testing.T) {
	registry := notify.NewRegistry()
	rec, cancel, done := startStream(t, fakeAuth{id: "V"}, registry, "/api/notifications/stream?token=abc")
	defer cancel()

	conn := waitForRegistration(t, registry, "V")
	if err := conn.Send([]byte(`{"type":"rsvp-created"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Give the handler a moment to drain the buffer onto the wire, then
	// stop it before inspecting the recorder.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.HasPrefix(body, ":ok\n\n") {
		t.Fatalf("expected :ok preamble, got %q", body)
	}
	if !strings.Contains(body, "data: {\"type\":\"rsvp-created\"}\n\n") {
		t.Fatalf("expected data frame, got %q", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestStreamUnregistersOnDisconnect(t *testing.T) {
	registry := notify.NewRegistry()
	_, cancel, done := startStream(t, fakeAuth{id: "V"}, registry, "/api/notifications/stream?token=abc")

	waitForRegistration(t, registry, "V")
	cancel()
	<-done

	if registry.Len() != 0 {
		t.Fatalf("expected empty registry after disconnect, got %d", registry.Len())
	}
}

func TestStreamClosesWhenConnDropped(t *testing.T) {
	registry := notify.NewRegistry()
	_, cancel, done := startStream(t, fakeAuth{id: "V"}, registry, "/api/notifications/stream?token=abc")
	defer cancel()

	conn := waitForRegistration(t, registry, "V")
	registry.Unregister(conn.ID())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after its connection was dropped")
	}
}

// plainWriter hides the recorder's Flush so the writer does not satisfy
// http.Flusher.
type plainWriter struct {
	rec *httptest.ResponseRecorder
}

func (w plainWriter) Header() http.Header         { return w.rec.Header() }
func (w plainWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w plainWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

func TestStreamRequiresFlusher(t *testing.T) {
	registry := notify.NewRegistry()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications/stream?token=abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, plainWriter{rec: rec})

	if err := streamNotifications(fakeAuth{id: "V"}, registry)(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 before any frame is written, got %d", rec.Code)
	}
	if got := rec.Body.String(); strings.Contains(got, ":ok") {
		t.Fatalf("no stream preamble may be written to a non-flushing writer, got %q", got)
	}
	if registry.Len() != 0 {
		t.Fatalf("nothing may be registered without a flusher, got %d", registry.Len())
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	registry := notify.NewRegistry()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications/stream?token=bad", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, flushRecorder{rec})

	auth := fakeAuth{err: errors.New("invalid token")}
	if err := streamNotifications(auth, registry)(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if registry.Len() != 0 {
		t.Fatalf("rejected client must not be registered, got %d", registry.Len())
	}
}
