package domain

import "encoding/json"

// Domain event types carried over the event bus.
const (
	TypeEventCreated  = "event-created"
	TypeEventUpdated  = "event-updated"
	TypeRSVPCreated   = "rsvp-created"
	TypeRSVPCancelled = "rsvp-cancelled"
)

// DomainEvent describes a committed state change and the users it concerns.
// It is immutable once published; the recipient list is resolved at publish
// time and never recomputed on delivery.
type DomainEvent struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	EventID         string          `json:"eventId"`
	ActorID         string          `json:"actorId"`
	AffectedUserIDs []string        `json:"affectedUserIds"`
	Data            json.RawMessage `json:"data,omitempty"`
	OccurredAt      int64           `json:"occurredAt"`
}

// RSVPEventData is the payload attached to rsvp-created and rsvp-cancelled events.
type RSVPEventData struct {
	RSVPID     string `json:"rsvpId"`
	UserEmail  string `json:"userEmail,omitempty"`
	EventTitle string `json:"eventTitle,omitempty"`
	Status     string `json:"status,omitempty"`
}

// EventEventData is the payload attached to event-created and event-updated events.
type EventEventData struct {
	EventTitle string `json:"eventTitle,omitempty"`
}

// Notification is the JSON payload pushed to a client over a live connection.
type Notification struct {
	Type       string `json:"type"`
	EventID    string `json:"eventId"`
	Message    string `json:"message"`
	OccurredAt int64  `json:"occurredAt"`
}
