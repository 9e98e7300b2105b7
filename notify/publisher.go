package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"communityhub/domain"
)

// Cache is the slice of the cache layer the publisher needs: explicit
// invalidation of the entries a mutation makes stale.
type Cache interface {
	InvalidateEventLists(ctx context.Context) error
	InvalidateEvent(ctx context.Context, eventID string) error
}

// Bus publishes domain events to the durable queue.
type Bus interface {
	Publish(ctx context.Context, ev domain.DomainEvent) error
}

// Publisher runs the invalidate-then-publish sequence on the write path,
// after the persistence commit. Cache invalidation strictly precedes the
// bus publish so a reader racing the write never re-caches pre-write data
// after the notification went out. Both steps are best-effort: a cache or
// bus failure never rolls back the committed mutation.
type Publisher struct {
	cache        Cache
	bus          Bus
	log          *log.Logger
	includeActor bool
}

// NewPublisher creates a Publisher. includeActor controls whether the user
// who triggered a mutation is notified about it on their own devices.
func NewPublisher(cache Cache, bus Bus, logger *log.Logger, includeActor bool) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{cache: cache, bus: bus, log: logger, includeActor: includeActor}
}

// EventCreated invalidates the list pages and announces the new event to its
// organizer. The organizer is always included so their other devices pick up
// the change, regardless of the includeActor setting.
func (p *Publisher) EventCreated(ctx context.Context, ev domain.Event) error {
	p.invalidateLists(ctx)
	data, _ := json.Marshal(domain.EventEventData{EventTitle: ev.Title})
	return p.publish(ctx, domain.DomainEvent{
		ID:              uuid.NewString(),
		Type:            domain.TypeEventCreated,
		EventID:         ev.ID,
		ActorID:         ev.CreatedBy,
		AffectedUserIDs: []string{ev.CreatedBy},
		Data:            data,
		OccurredAt:      nextTimestamp(),
	})
}

// EventUpdated invalidates both the list pages and the event's detail entry,
// then notifies the audience resolved at this moment: organizer plus every
// RSVP'd user.
func (p *Publisher) EventUpdated(ctx context.Context, ev domain.Event, actorID string, rsvpUserIDs []string) error {
	p.invalidateLists(ctx)
	p.invalidateEvent(ctx, ev.ID)
	data, _ := json.Marshal(domain.EventEventData{EventTitle: ev.Title})
	return p.publish(ctx, domain.DomainEvent{
		ID:              uuid.NewString(),
		Type:            domain.TypeEventUpdated,
		EventID:         ev.ID,
		ActorID:         actorID,
		AffectedUserIDs: domain.Recipients(ev.CreatedBy, actorID, rsvpUserIDs, p.includeActor),
		Data:            data,
		OccurredAt:      nextTimestamp(),
	})
}

// RSVPCreated invalidates the event's detail entry and notifies the
// organizer (and the actor, when configured).
func (p *Publisher) RSVPCreated(ctx context.Context, ev domain.Event, r domain.RSVP, actorEmail string) error {
	p.invalidateEvent(ctx, ev.ID)
	data, _ := json.Marshal(domain.RSVPEventData{
		RSVPID:     r.ID,
		UserEmail:  actorEmail,
		EventTitle: ev.Title,
		Status:     r.Status,
	})
	return p.publish(ctx, domain.DomainEvent{
		ID:              uuid.NewString(),
		Type:            domain.TypeRSVPCreated,
		EventID:         ev.ID,
		ActorID:         r.UserID,
		AffectedUserIDs: domain.Recipients(ev.CreatedBy, r.UserID, nil, p.includeActor),
		Data:            data,
		OccurredAt:      nextTimestamp(),
	})
}

// RSVPCancelled mirrors RSVPCreated for a withdrawn RSVP.
func (p *Publisher) RSVPCancelled(ctx context.Context, ev domain.Event, r domain.RSVP, actorEmail string) error {
	p.invalidateEvent(ctx, ev.ID)
	data, _ := json.Marshal(domain.RSVPEventData{
		RSVPID:     r.ID,
		UserEmail:  actorEmail,
		EventTitle: ev.Title,
		Status:     r.Status,
	})
	return p.publish(ctx, domain.DomainEvent{
		ID:              uuid.NewString(),
		Type:            domain.TypeRSVPCancelled,
		EventID:         ev.ID,
		ActorID:         r.UserID,
		AffectedUserIDs: domain.Recipients(ev.CreatedBy, r.UserID, nil, p.includeActor),
		Data:            data,
		OccurredAt:      nextTimestamp(),
	})
}

func (p *Publisher) invalidateLists(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateEventLists(ctx); err != nil {
		// Stale list pages expire via TTL; not worth failing the write.
		p.log.WithError(err).Warn("failed to invalidate event list cache")
	}
}

func (p *Publisher) invalidateEvent(ctx context.Context, eventID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateEvent(ctx, eventID); err != nil {
		p.log.WithError(err).WithField("event", eventID).Warn("failed to invalidate event detail cache")
	}
}

func (p *Publisher) publish(ctx context.Context, ev domain.DomainEvent) error {
	if err := p.bus.Publish(ctx, ev); err != nil {
		return err
	}
	p.log.WithFields(log.Fields{
		"type":       ev.Type,
		"event":      ev.EventID,
		"recipients": len(ev.AffectedUserIDs),
	}).Debug("domain event published")
	return nil
}
