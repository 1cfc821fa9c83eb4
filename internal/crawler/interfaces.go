package crawler

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Session is one isolated rendering-engine instance. A Session is owned by a
// single goroutine at a time and is never shared between workers.
type Session interface {
	// ID identifies the session in logs.
	ID() string
	// IsAlive reports whether the session still answers a cheap round trip.
	// It never returns an error; any failure counts as dead.
	IsAlive(ctx context.Context) bool
	// Navigate loads url and waits for the document body.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs script in the page and returns its JSON-encoded result.
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	// PageSource returns the rendered outer HTML of the current document.
	PageSource(ctx context.Context) (string, error)
	// Close tears the session down. It is idempotent and never fails.
	Close()
}

// SessionFactory creates live sessions.
type SessionFactory interface {
	Create(ctx context.Context) (Session, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
