package catalog

import (
	"context"
	"io"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper pauses the caller; implementations must return early when the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ArchiveStore writes raw upstream payloads and returns a URI.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes catalog change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
