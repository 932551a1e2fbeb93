package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

func completedSession() core.AuthSession {
	now := time.UnixMilli(1_700_000_000_000)
	return core.AuthSession{
		ID:        "sess-1",
		ServiceID: "svc",
		Status:    core.StatusCompleted,
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
		Wallet:    "Wallet111",
	}
}

func TestPublishDeliversEnvelope(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub, "")
	assert.Equal(t, DefaultTopic, pub.Topic())

	event := core.NewSessionCompleted(completedSession(), true)
	require.NoError(t, pub.Publish(ctx, event))

	select {
	case msg := <-messages:
		msg.Ack()
		env, err := DecodeEnvelope(msg)
		require.NoError(t, err)
		assert.Equal(t, core.EventSessionCompleted, env.Type)
		assert.Equal(t, "sess-1", env.SessionID)
		assert.Equal(t, "Wallet111", env.Wallet)
		assert.True(t, env.SubscriptionActive)
		assert.Equal(t, "session_completed", msg.Metadata.Get("event_type"))
		assert.NotEmpty(t, msg.UUID)
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}

func TestNewEnvelopeVariants(t *testing.T) {
	s := completedSession()
	now := time.UnixMilli(1_700_000_001_000)

	s.Status = core.StatusRejected
	rejected := NewEnvelope(core.NewSessionRejected(s, "user declined"), now)
	assert.Equal(t, "user declined", rejected.Reason)
	assert.Equal(t, now.UnixMilli(), rejected.OccurredAt)

	s.Status = core.StatusFailed
	failed := NewEnvelope(core.NewSessionFailed(s, core.ErrInvalidSignature), now)
	assert.Equal(t, core.CodeInvalidSignature, failed.ErrorCode)
	assert.Equal(t, "Invalid signature", failed.Error)
}

func TestPublishOnClosedPublisher(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	require.NoError(t, pubSub.Close())

	pub := NewWatermillPublisher(pubSub, "custom.topic")
	err := pub.Publish(context.Background(), core.NewSessionExpired(completedSession()))
	assert.Error(t, err)
}

func TestPublishUsesConfiguredTopic(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "tenant.logins")
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub, "tenant.logins")
	assert.Equal(t, "tenant.logins", pub.Topic())
	require.NoError(t, pub.Publish(ctx, core.NewSessionCompleted(completedSession(), false)))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "sess-1", msg.Metadata.Get("session_id"))
	case <-ctx.Done():
		t.Fatal("no message on the configured topic")
	}
}
