// Package clip holds the contracts shared by the harvester: the error taxonomy,
// the collaborator interfaces and the upstream URL surface.
package clip

import (
	"context"
	"time"
)

// Page is a fetched upstream document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Transport performs authenticated GETs against the upstream system.
// Implementations re-authenticate once when the session has expired.
type Transport interface {
	Get(ctx context.Context, url string) (Page, error)
}

// Archive keeps raw documents that failed extraction. Returns the object URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes harvest events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces harvest run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
