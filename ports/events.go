package ports

import (
	"context"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

// EventPublisher forwards lifecycle events to other processes
type EventPublisher interface {
	Publish(ctx context.Context, event core.AuthEvent) error
}
