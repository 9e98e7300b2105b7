package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"communityhub/domain"
)

// eventsPartition keys all event rows into a single partition so list
// queries stay a single range scan.
const eventsPartition = "event"

// Storage provides access to the events, RSVPs and users tables.
type Storage struct {
	eventTable *aztables.Client
	rsvpTable  *aztables.Client
	userTable  *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, eventsTable, rsvpsTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		eventTable: svc.NewClient(eventsTable),
		rsvpTable:  svc.NewClient(rsvpsTable),
		userTable:  svc.NewClient(usersTable),
	}, nil
}

type eventEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Location    string `json:"Location"`
	StartsAt    int64  `json:"StartsAt"`
	Capacity    int    `json:"Capacity"`
	Category    string `json:"Category"`
	CreatedBy   string `json:"CreatedBy"`
	CreatedAt   int64  `json:"CreatedAt"`
}

type rsvpEntity struct {
	aztables.Entity
	ID        string `json:"Id"`
	Status    string `json:"Status"`
	CreatedAt int64  `json:"CreatedAt"`
}

type userEntity struct {
	aztables.Entity
	Email    string `json:"Email"`
	FullName string `json:"FullName"`
}

func (e eventEntity) toDomain() domain.Event {
	ev := domain.Event{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Capacity:    e.Capacity,
		Category:    e.Category,
		CreatedBy:   e.CreatedBy,
	}
	if e.StartsAt > 0 {
		ev.StartsAt = time.UnixMilli(e.StartsAt).UTC()
	}
	if e.CreatedAt > 0 {
		ev.CreatedAt = time.UnixMilli(e.CreatedAt).UTC()
	}
	return ev
}

func eventToEntity(ev domain.Event) eventEntity {
	ent := eventEntity{
		Entity:      aztables.Entity{PartitionKey: eventsPartition, RowKey: ev.ID},
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Capacity:    ev.Capacity,
		Category:    ev.Category,
		CreatedBy:   ev.CreatedBy,
	}
	if !ev.StartsAt.IsZero() {
		ent.StartsAt = ev.StartsAt.UnixMilli()
	}
	if !ev.CreatedAt.IsZero() {
		ent.CreatedAt = ev.CreatedAt.UnixMilli()
	}
	return ent
}

// CreateEvent persists a new event row.
func (s *Storage) CreateEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(eventToEntity(ev))
	if err != nil {
		return err
	}
	_, err = s.eventTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateEvent replaces an existing event row.
func (s *Storage) UpdateEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(eventToEntity(ev))
	if err != nil {
		return err
	}
	_, err = s.eventTable.UpsertEntity(ctx, payload, nil)
	return err
}

// GetEvent retrieves an event, returning nil when it does not exist.
func (s *Storage) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	resp, err := s.eventTable.GetEntity(ctx, eventsPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent eventEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	ev := ent.toDomain()
	return &ev, nil
}

// ListEvents returns a page of events matching the filter. The equality and
// start-time bounds go into the table query; the free-text search runs
// in-process since table storage has no substring predicate.
func (s *Storage) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", eventsPartition)
	if f.CreatedBy != "" {
		filter += fmt.Sprintf(" and CreatedBy eq '%s'", f.CreatedBy)
	}
	if f.Category != "" {
		filter += fmt.Sprintf(" and Category eq '%s'", f.Category)
	}
	if !f.StartsAfter.IsZero() {
		filter += fmt.Sprintf(" and StartsAt ge %d", f.StartsAfter.UnixMilli())
	}
	if !f.StartsBefore.IsZero() {
		filter += fmt.Sprintf(" and StartsAt le %d", f.StartsBefore.UnixMilli())
	}
	pager := s.eventTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	events := []domain.Event{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent eventEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			ev := ent.toDomain()
			if f.Search != "" && !matchesSearch(ev, f.Search) {
				continue
			}
			events = append(events, ev)
		}
	}
	return pageSlice(events, f.Page, f.Limit), nil
}

// matchesSearch reports whether term occurs in the event title or
// description, case-insensitively.
func matchesSearch(ev domain.Event, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(ev.Title), term) ||
		strings.Contains(strings.ToLower(ev.Description), term)
}

func pageSlice(events []domain.Event, page, limit int) []domain.Event {
	if limit <= 0 {
		return events
	}
	if page < 0 {
		page = 0
	}
	start := page * limit
	if start >= len(events) {
		return []domain.Event{}
	}
	end := start + limit
	if end > len(events) {
		end = len(events)
	}
	return events[start:end]
}

// UpsertRSVP creates or replaces the RSVP for a (event, user) pair. Keying
// the row on both ids keeps the one-RSVP-per-user invariant in the table.
func (s *Storage) UpsertRSVP(ctx context.Context, r domain.RSVP) error {
	ent := rsvpEntity{
		Entity: aztables.Entity{PartitionKey: r.EventID, RowKey: r.UserID},
		ID:     r.ID,
		Status: r.Status,
	}
	if !r.CreatedAt.IsZero() {
		ent.CreatedAt = r.CreatedAt.UnixMilli()
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.rsvpTable.UpsertEntity(ctx, payload, nil)
	return err
}

// GetRSVP retrieves the RSVP a user holds for an event, nil when absent.
func (s *Storage) GetRSVP(ctx context.Context, eventID, userID string) (*domain.RSVP, error) {
	resp, err := s.rsvpTable.GetEntity(ctx, eventID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent rsvpEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	r := domain.RSVP{
		ID:      ent.ID,
		EventID: ent.PartitionKey,
		UserID:  ent.RowKey,
		Status:  ent.Status,
	}
	if ent.CreatedAt > 0 {
		r.CreatedAt = time.UnixMilli(ent.CreatedAt).UTC()
	}
	return &r, nil
}

// ListRSVPUserIDs returns the ids of users holding a live RSVP for the event.
// Cancelled RSVPs stay on record but are no longer part of the audience.
func (s *Storage) ListRSVPUserIDs(ctx context.Context, eventID string) ([]string, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", eventID)
	pager := s.rsvpTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []string{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent rsvpEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			if ent.Status == domain.RSVPCancelled {
				continue
			}
			users = append(users, ent.RowKey)
		}
	}
	return users, nil
}

// GetUser retrieves a user row, nil when absent.
func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.User{ID: ent.RowKey, Email: ent.Email, FullName: ent.FullName}, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
