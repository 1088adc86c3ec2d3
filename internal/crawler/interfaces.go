package crawler

import (
	"context"
	"iter"
	"time"
)

// Store persists one record per domain bucket.
type Store interface {
	// EnsureBucket creates the record when absent and reports whether it did.
	// An existing record is never modified.
	EnsureBucket(ctx context.Context, bucket Bucket) (bool, error)
	// LoadBucket returns ErrNotFound when no record exists for key.
	LoadBucket(ctx context.Context, key string) (Bucket, error)
	// SaveBucket atomically replaces an existing record.
	SaveBucket(ctx context.Context, bucket Bucket) error
	// ListBuckets yields every record once. Iteration stops at the first error.
	ListBuckets(ctx context.Context) iter.Seq2[Bucket, error]
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Searcher runs the policy search for one registered domain.
type Searcher interface {
	Search(ctx context.Context, domain string) SearchResult
}

// BlockDetector classifies a fetched page as an anti-automation challenge.
type BlockDetector interface {
	Blocked(body []byte) bool
}

// Pacer spaces consecutive external queries.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Publisher pushes pass events to Pub/Sub (or similar).
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
