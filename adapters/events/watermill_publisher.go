package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
)

// DefaultTopic carries every session lifecycle event
const DefaultTopic = "p01auth.events"

// EventEnvelope is the wire form of a lifecycle event
type EventEnvelope struct {
	Type               core.EventType     `json:"type"`
	SessionID          string             `json:"sessionId"`
	ServiceID          string             `json:"serviceId"`
	Status             core.SessionStatus `json:"status"`
	Wallet             string             `json:"wallet,omitempty"`
	SubscriptionActive bool               `json:"subscriptionActive,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	ErrorCode          core.Code          `json:"errorCode,omitempty"`
	Error              string             `json:"error,omitempty"`
	ExpiresAt          int64              `json:"expiresAt"`
	OccurredAt         int64              `json:"occurredAt"`
}

// NewEnvelope flattens an event into its wire form
func NewEnvelope(event core.AuthEvent, now time.Time) EventEnvelope {
	s := event.Snapshot()
	env := EventEnvelope{
		Type:       event.Type(),
		SessionID:  event.SessionID(),
		ServiceID:  s.ServiceID,
		Status:     s.Status,
		Wallet:     s.Wallet,
		ExpiresAt:  s.ExpiresAt.UnixMilli(),
		OccurredAt: now.UnixMilli(),
	}
	switch e := event.(type) {
	case core.SessionCompleted:
		env.Wallet = e.Wallet
		env.SubscriptionActive = e.SubscriptionActive
	case core.SessionRejected:
		env.Reason = e.Reason
	case core.SessionFailed:
		if e.Err != nil {
			env.ErrorCode = e.Err.Code
			env.Error = e.Err.Message
		}
	}
	return env
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	now       func() time.Time
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// NewWatermillPublisher creates a new Watermill publisher. An empty topic
// selects DefaultTopic.
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
	}
}

// Topic returns the topic events are published on
func (p *WatermillPublisher) Topic() string {
	return p.topic
}

// Publish forwards a lifecycle event
func (p *WatermillPublisher) Publish(ctx context.Context, event core.AuthEvent) error {
	payload, err := json.Marshal(NewEnvelope(event, p.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(event.Type()))
	msg.Metadata.Set("session_id", event.SessionID())

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// DecodeEnvelope parses a message produced by Publish
func DecodeEnvelope(msg *message.Message) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return EventEnvelope{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return env, nil
}
