package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"communityhub/domain"
	"communityhub/notify"
)

const (
	postBodyMaxSize  = 1 << 20
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, pub Publisher, registry *notify.Registry, limiter *RateLimiter, logger *log.Logger) {
	write := []echo.MiddlewareFunc{}
	if limiter != nil {
		write = append(write, limiter.Middleware())
	}

	e.POST("/api/events", createEvent(store, auth, pub, logger), write...)
	e.PUT("/api/events/:id", updateEvent(store, auth, pub, logger), write...)
	e.GET("/api/events", listEvents(store, auth))
	e.GET("/api/events/:id", getEvent(store, auth))
	e.POST("/api/events/:id/rsvps", createRSVP(store, auth, pub, logger), write...)
	e.DELETE("/api/events/:id/rsvps", cancelRSVP(store, auth, pub, logger), write...)
	e.GET("/api/notifications/stream", streamNotifications(auth, registry))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartsAt    string `json:"startsAt"`
	Capacity    int    `json:"capacity"`
	Category    string `json:"category"`
}

type rsvpRequest struct {
	Status string `json:"status"`
}

type eventsResponse struct {
	Events []domain.Event `json:"events"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// warnPublish records a failed notification publish without affecting the
// response. The mutation already committed; losing one push is acceptable,
// losing the write is not.
func warnPublish(logger *log.Logger, err error, eventID string) {
	if err == nil {
		return
	}
	logger.WithError(err).WithField("event", eventID).Warn("notification publish failed")
}

func createEvent(store Storage, auth Authenticator, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req eventRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Title) == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		if req.Category != "" && !domain.ValidCategory(req.Category) {
			return c.String(http.StatusBadRequest, "unknown category")
		}
		ev := domain.Event{
			ID:          uuid.NewString(),
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			Capacity:    req.Capacity,
			Category:    req.Category,
			CreatedBy:   userID,
			CreatedAt:   time.Now().UTC(),
		}
		if req.StartsAt != "" {
			startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid startsAt")
			}
			ev.StartsAt = startsAt.UTC()
		}

		if err := store.CreateEvent(ctx, ev); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create event")
		}
		warnPublish(logger, pub.EventCreated(ctx, ev), ev.ID)

		return c.JSON(http.StatusCreated, ev)
	}
}

func updateEvent(store Storage, auth Authenticator, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ev, err := store.GetEvent(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load event")
		}
		if ev == nil {
			return c.String(http.StatusNotFound, "event not found")
		}
		if ev.CreatedBy != userID {
			return c.String(http.StatusForbidden, "only the organizer can edit an event")
		}

		var req eventRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title != "" {
			ev.Title = req.Title
		}
		if req.Description != "" {
			ev.Description = req.Description
		}
		if req.Location != "" {
			ev.Location = req.Location
		}
		if req.Capacity > 0 {
			ev.Capacity = req.Capacity
		}
		if req.Category != "" {
			if !domain.ValidCategory(req.Category) {
				return c.String(http.StatusBadRequest, "unknown category")
			}
			ev.Category = req.Category
		}
		if req.StartsAt != "" {
			startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid startsAt")
			}
			ev.StartsAt = startsAt.UTC()
		}

		if err := store.UpdateEvent(ctx, *ev); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to update event")
		}

		rsvpUserIDs, err := store.ListRSVPUserIDs(ctx, ev.ID)
		if err != nil {
			// Audience lookup is part of the notification path, not the write.
			logger.WithError(err).WithField("event", ev.ID).Warn("failed to resolve rsvp audience")
			rsvpUserIDs = nil
		}
		warnPublish(logger, pub.EventUpdated(ctx, *ev, userID, rsvpUserIDs), ev.ID)

		return c.JSON(http.StatusOK, ev)
	}
}

func listEvents(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		f := domain.EventFilter{
			CreatedBy: c.QueryParam("createdBy"),
			Category:  c.QueryParam("category"),
			Search:    strings.TrimSpace(c.QueryParam("search")),
			Limit:     defaultPageLimit,
		}
		if f.Category != "" && !domain.ValidCategory(f.Category) {
			return c.String(http.StatusBadRequest, "unknown category")
		}
		if v := c.QueryParam("startsAfter"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid startsAfter")
			}
			f.StartsAfter = ts.UTC()
		}
		if v := c.QueryParam("startsBefore"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid startsBefore")
			}
			f.StartsBefore = ts.UTC()
		}
		if v := strings.TrimSpace(c.QueryParam("page")); v != "" {
			page, err := strconv.Atoi(v)
			if err != nil || page < 0 {
				return c.String(http.StatusBadRequest, "invalid page")
			}
			f.Page = page
		}
		if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit <= 0 || limit > maxPageLimit {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
			f.Limit = limit
		}

		events, err := store.ListEvents(ctx, f)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to list events")
		}
		return c.JSON(http.StatusOK, eventsResponse{Events: events, Page: f.Page, Limit: f.Limit})
	}
}

func getEvent(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ev, err := store.GetEvent(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load event")
		}
		if ev == nil {
			return c.String(http.StatusNotFound, "event not found")
		}
		return c.JSON(http.StatusOK, ev)
	}
}

func createRSVP(store Storage, auth Authenticator, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		req := rsvpRequest{Status: domain.RSVPGoing}
		if c.Request().ContentLength != 0 {
			if err := decodeBody(c, &req); err != nil {
				return c.String(http.StatusBadRequest, "invalid body")
			}
		}
		if req.Status == "" {
			req.Status = domain.RSVPGoing
		}
		if !domain.ValidRSVPStatus(req.Status) || req.Status == domain.RSVPCancelled {
			return c.String(http.StatusBadRequest, "invalid rsvp status")
		}

		ev, err := store.GetEvent(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load event")
		}
		if ev == nil {
			return c.String(http.StatusNotFound, "event not found")
		}

		r := domain.RSVP{
			ID:        uuid.NewString(),
			UserID:    userID,
			EventID:   ev.ID,
			Status:    req.Status,
			CreatedAt: time.Now().UTC(),
		}
		existing, err := store.GetRSVP(ctx, ev.ID, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load rsvp")
		}
		if existing != nil {
			// One RSVP per user per event: re-RSVPing updates in place.
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
		}
		if err := store.UpsertRSVP(ctx, r); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to save rsvp")
		}

		warnPublish(logger, pub.RSVPCreated(ctx, *ev, r, actorEmail(ctx, store, userID)), ev.ID)

		return c.JSON(http.StatusCreated, r)
	}
}

func cancelRSVP(store Storage, auth Authenticator, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ev, err := store.GetEvent(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load event")
		}
		if ev == nil {
			return c.String(http.StatusNotFound, "event not found")
		}
		r, err := store.GetRSVP(ctx, ev.ID, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load rsvp")
		}
		if r == nil || r.Status == domain.RSVPCancelled {
			return c.String(http.StatusNotFound, "rsvp not found")
		}

		r.Status = domain.RSVPCancelled
		if err := store.UpsertRSVP(ctx, *r); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to save rsvp")
		}

		warnPublish(logger, pub.RSVPCancelled(ctx, *ev, *r, actorEmail(ctx, store, userID)), ev.ID)

		return c.JSON(http.StatusOK, r)
	}
}

// actorEmail looks up the acting user's email for notification text.
// Best-effort: a missing or failed lookup just leaves the payload anonymous.
func actorEmail(ctx context.Context, store Storage, userID string) string {
	u, err := store.GetUser(ctx, userID)
	if err != nil || u == nil {
		return ""
	}
	return u.Email
}
