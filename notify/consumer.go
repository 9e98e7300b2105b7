package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"communityhub/bus"
	"communityhub/domain"
)

// Queue is the consumer's view of the event bus. Receive returning
// (nil, nil) means the queue was empty on this poll.
type Queue interface {
	Receive(ctx context.Context) (*bus.Message, error)
	Ack(ctx context.Context, m *bus.Message) error
	DeadLetter(ctx context.Context, m *bus.Message) error
}

// Consumer drains the domain events queue and pushes notifications to every
// live connection of every affected user. Messages are acknowledged only
// after all recipients have been attempted, so a crash mid-processing means
// redelivery rather than loss; duplicate pushes are the accepted cost.
type Consumer struct {
	queue         Queue
	registry      *Registry
	log           *log.Logger
	maxDeliveries int64
	pollInterval  time.Duration
}

// NewConsumer creates a Consumer. maxDeliveries bounds how often a message
// is retried before it is routed to the dead-letter queue.
func NewConsumer(queue Queue, registry *Registry, logger *log.Logger, maxDeliveries int64) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &Consumer{
		queue:         queue,
		registry:      registry,
		log:           logger,
		maxDeliveries: maxDeliveries,
		pollInterval:  time.Second,
	}
}

// Run polls the queue until ctx is cancelled. Receive errors are logged and
// retried after a backoff; they never terminate the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithError(err).Error("receive from event bus")
			c.sleep(ctx, c.pollInterval)
			continue
		}
		if msg == nil {
			c.sleep(ctx, c.pollInterval)
			continue
		}
		c.Process(ctx, msg)
	}
}

// Process handles a single message end to end: decode, fan out, acknowledge.
// A send failure on one connection unregisters that connection and moves on;
// it never aborts the remaining recipients.
func (c *Consumer) Process(ctx context.Context, msg *bus.Message) {
	metrics, spanCtx := newDeliveryMetrics(ctx, c.log)
	metrics.SetRedelivery(msg.DequeueCount > 1)

	if msg.DequeueCount > c.maxDeliveries {
		metrics.SetErrorStage("retry_budget")
		c.deadLetter(spanCtx, msg, metrics, fmt.Errorf("retry budget exhausted after %d deliveries", msg.DequeueCount))
		return
	}

	var ev domain.DomainEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		// An undecodable message will never succeed; poison it immediately.
		metrics.SetErrorStage("decode")
		c.deadLetter(spanCtx, msg, metrics, err)
		return
	}
	metrics.SetEventType(ev.Type)
	metrics.SetRecipients(len(ev.AffectedUserIDs))

	payload, err := json.Marshal(notification(ev))
	if err != nil {
		metrics.SetErrorStage("encode")
		c.deadLetter(spanCtx, msg, metrics, err)
		return
	}

	for _, userID := range ev.AffectedUserIDs {
		for _, conn := range c.registry.Connections(userID) {
			if err := conn.Send(payload); err != nil {
				c.registry.Unregister(conn.ID())
				metrics.AddFailed()
				c.log.WithError(err).WithFields(log.Fields{
					"user": userID,
					"conn": conn.ID(),
				}).Warn("dropping dead connection")
				continue
			}
			metrics.AddDelivered()
		}
	}

	if err := c.queue.Ack(spanCtx, msg); err != nil {
		// The message comes back after its visibility timeout; recipients
		// will see a duplicate push, which they must tolerate anyway.
		metrics.SetErrorStage("ack")
		metrics.Log(err)
		return
	}
	metrics.Log(nil)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *bus.Message, metrics *deliveryMetrics, cause error) {
	if err := c.queue.DeadLetter(ctx, msg); err != nil {
		c.log.WithError(err).WithField("msg", msg.ID).Error("dead-letter failed")
	}
	metrics.Log(cause)
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// notification renders the client-facing payload for a domain event.
func notification(ev domain.DomainEvent) domain.Notification {
	n := domain.Notification{
		Type:       ev.Type,
		EventID:    ev.EventID,
		OccurredAt: ev.OccurredAt,
	}
	switch ev.Type {
	case domain.TypeRSVPCreated:
		var data domain.RSVPEventData
		_ = json.Unmarshal(ev.Data, &data)
		who := data.UserEmail
		if who == "" {
			who = "Someone"
		}
		n.Message = fmt.Sprintf("%s RSVP'd to %s", who, orEvent(data.EventTitle))
	case domain.TypeRSVPCancelled:
		var data domain.RSVPEventData
		_ = json.Unmarshal(ev.Data, &data)
		who := data.UserEmail
		if who == "" {
			who = "Someone"
		}
		n.Message = fmt.Sprintf("%s cancelled their RSVP to %s", who, orEvent(data.EventTitle))
	case domain.TypeEventCreated:
		var data domain.EventEventData
		_ = json.Unmarshal(ev.Data, &data)
		n.Message = fmt.Sprintf("%s was created", orEvent(data.EventTitle))
	case domain.TypeEventUpdated:
		var data domain.EventEventData
		_ = json.Unmarshal(ev.Data, &data)
		n.Message = fmt.Sprintf("%s was updated", orEvent(data.EventTitle))
	default:
		n.Message = ev.Type
	}
	return n
}

func orEvent(title string) string {
	if title == "" {
		return "an event"
	}
	return title
}
