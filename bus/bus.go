// Package bus adapts Azure Storage queues into the durable publish/subscribe
// channel between the write path and the notification consumer. Messages are
// JSON-encoded domain events; acknowledgement is queue deletion, so anything
// not deleted before its visibility timeout comes back for redelivery.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"communityhub/domain"
)

// Message is a received domain event envelope together with the queue
// bookkeeping needed to acknowledge or dead-letter it.
type Message struct {
	ID           string
	PopReceipt   string
	Body         []byte
	DequeueCount int64
}

// Bus wraps the domain events queue and its dead-letter companion.
type Bus struct {
	events *azqueue.QueueClient
	poison *azqueue.QueueClient
}

// New creates a Bus from the given connection string and queue names.
// The poison queue name may be empty, in which case dead-lettered messages
// are dropped after logging by the caller.
func New(connStr, eventsQueue, poisonQueue string) (*Bus, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	events, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &opts)
	if err != nil {
		return nil, err
	}
	b := &Bus{events: events}
	if poisonQueue != "" {
		poison, err := azqueue.NewQueueClientFromConnectionString(connStr, poisonQueue, &opts)
		if err != nil {
			return nil, err
		}
		b.poison = poison
	}
	return b, nil
}

// Publish enqueues a domain event. The event is immutable from this point on.
func (b *Bus) Publish(ctx context.Context, ev domain.DomainEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.events.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Receive polls for the next message. It returns (nil, nil) when the queue
// is empty; callers are expected to back off before polling again.
func (b *Bus) Receive(ctx context.Context) (*Message, error) {
	resp, err := b.events.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	m := &Message{}
	if msg.MessageID != nil {
		m.ID = *msg.MessageID
	}
	if msg.PopReceipt != nil {
		m.PopReceipt = *msg.PopReceipt
	}
	if msg.MessageText != nil {
		m.Body = []byte(*msg.MessageText)
	}
	if msg.DequeueCount != nil {
		m.DequeueCount = *msg.DequeueCount
	}
	return m, nil
}

// Ack removes a processed message so it is not redelivered.
func (b *Bus) Ack(ctx context.Context, m *Message) error {
	_, err := b.events.DeleteMessage(ctx, m.ID, m.PopReceipt, nil)
	return err
}

// DeadLetter moves a message that exhausted its retry budget onto the poison
// queue and acknowledges it, so it stops blocking the main queue.
func (b *Bus) DeadLetter(ctx context.Context, m *Message) error {
	if b.poison != nil {
		if _, err := b.poison.EnqueueMessage(ctx, string(m.Body), nil); err != nil {
			return err
		}
	}
	return b.Ack(ctx, m)
}
