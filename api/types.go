package api

import (
	"context"

	"communityhub/domain"
)

// Storage abstracts persistence for handlers. In production it is the
// cache-wrapped table storage; tests substitute fakes.
type Storage interface {
	CreateEvent(ctx context.Context, ev domain.Event) error
	UpdateEvent(ctx context.Context, ev domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
	UpsertRSVP(ctx context.Context, r domain.RSVP) error
	GetRSVP(ctx context.Context, eventID, userID string) (*domain.RSVP, error)
	ListRSVPUserIDs(ctx context.Context, eventID string) ([]string, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Publisher runs cache invalidation and event publication after a committed
// mutation. A returned error means the notification was not published; the
// mutation itself stands.
type Publisher interface {
	EventCreated(ctx context.Context, ev domain.Event) error
	EventUpdated(ctx context.Context, ev domain.Event, actorID string, rsvpUserIDs []string) error
	RSVPCreated(ctx context.Context, ev domain.Event, r domain.RSVP, actorEmail string) error
	RSVPCancelled(ctx context.Context, ev domain.Event, r domain.RSVP, actorEmail string) error
}
