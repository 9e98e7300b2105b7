package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"communityhub/notify"
)

const (
	streamBufferSize  = 16
	keepaliveInterval = 30 * time.Second
)

// streamNotifications serves the long-lived SSE connection. The connection
// is registered only after the bearer token verifies; a client disconnect
// tears down this one connection and nothing else.
func streamNotifications(auth Authenticator, registry *notify.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		// Initial comment so headers reach the client before the first push.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		conn := notify.NewConn(userID, streamBufferSize)
		registry.Register(conn)
		defer registry.Unregister(conn.ID())

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case payload, open := <-conn.C():
				if !open {
					// The consumer dropped us as a dead peer.
					return nil
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(payload); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				// Comment frame as a heartbeat to keep proxies from closing us.
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
