package release

import (
	"context"
	"time"
)

// Fetcher retrieves the raw content behind an address.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sink delivers a formatted message to one chat.
type Sink interface {
	Send(ctx context.Context, chatID string, text string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation IDs for poll cycles and requests.
type IDGenerator interface {
	NewID() (string, error)
}
