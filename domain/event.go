package domain

import "time"

// Event categories mirror the values accepted by the events API.
const (
	CategoryTechnology = "technology"
	CategoryBusiness   = "business"
	CategoryArts       = "arts"
	CategorySports     = "sports"
	CategoryEducation  = "education"
	CategorySocial     = "social"
	CategoryHealth     = "health"
	CategoryMusic      = "music"
	CategoryFood       = "food"
	CategoryOther      = "other"
)

// Event represents a community event in the read model.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"startsAt,omitempty"`
	Capacity    int       `json:"capacity,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RSVP statuses. A cancelled RSVP stays on record but drops the user from
// the event's notification audience.
const (
	RSVPGoing      = "going"
	RSVPInterested = "interested"
	RSVPCancelled  = "cancelled"
)

// RSVP links a user to an event. At most one RSVP exists per (user, event)
// pair; storage enforces that by keying RSVPs on both ids.
type RSVP struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// User carries the identity fields the core needs for display purposes.
// Credentials and roles live in the external auth subsystem.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}

// EventFilter narrows and pages an event list query. The zero value means
// "everything, unpaged". Search matches title and description
// case-insensitively; StartsAfter and StartsBefore bound the event start
// time and are ignored when zero.
type EventFilter struct {
	CreatedBy    string
	Category     string
	Search       string
	StartsAfter  time.Time
	StartsBefore time.Time
	Page         int
	Limit        int
}

// ValidCategory reports whether c is one of the known event categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryTechnology, CategoryBusiness, CategoryArts, CategorySports,
		CategoryEducation, CategorySocial, CategoryHealth, CategoryMusic,
		CategoryFood, CategoryOther:
		return true
	}
	return false
}

// ValidRSVPStatus reports whether s is a known RSVP status.
func ValidRSVPStatus(s string) bool {
	switch s {
	case RSVPGoing, RSVPInterested, RSVPCancelled:
		return true
	}
	return false
}
