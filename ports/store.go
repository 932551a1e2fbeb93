package ports

import (
	"context"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

// SessionStore persists AuthSession records. Implementations must be safe for
// concurrent use and must serialize concurrent writers of the same session.
type SessionStore interface {
	// Get returns a copy of the session or core.ErrSessionNotFound
	Get(ctx context.Context, id string) (core.AuthSession, error)

	// Create inserts a session only if its id is unused, and returns
	// core.ErrSessionExists otherwise
	Create(ctx context.Context, session core.AuthSession) error

	// Set inserts or fully replaces a session
	Set(ctx context.Context, session core.AuthSession) error

	// Delete removes a session; deleting a missing session is not an error
	Delete(ctx context.Context, id string) error

	// Update atomically reads the session, applies fn to a copy and stores the
	// result. If fn returns an error nothing is written and the error is
	// returned unchanged.
	Update(ctx context.Context, id string, fn func(*core.AuthSession) error) (core.AuthSession, error)
}
