// Package memory keeps bucket records in-memory for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

// Store implements crawler.Store over a map of encoded records. Records are
// stored as JSON so callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
	saves   int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string][]byte)}
}

// EnsureBucket stores a fresh record unless one exists for the key.
func (s *Store) EnsureBucket(_ context.Context, bucket crawler.Bucket) (bool, error) {
	if bucket.Key == "" {
		return false, fmt.Errorf("bucket key is required")
	}
	data, err := json.Marshal(bucket.Fresh())
	if err != nil {
		return false, fmt.Errorf("encode bucket: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[bucket.Key]; ok {
		return false, nil
	}
	s.records[bucket.Key] = data
	return true, nil
}

// LoadBucket decodes the stored record for key.
func (s *Store) LoadBucket(_ context.Context, key string) (crawler.Bucket, error) {
	s.mu.RLock()
	data, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return crawler.Bucket{}, fmt.Errorf("load %s: %w", key, crawler.ErrNotFound)
	}
	var bucket crawler.Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return crawler.Bucket{}, fmt.Errorf("decode %s: %w", key, err)
	}
	bucket.Key = key
	return bucket, nil
}

// SaveBucket replaces an existing record.
func (s *Store) SaveBucket(_ context.Context, bucket crawler.Bucket) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[bucket.Key]; !ok {
		return fmt.Errorf("save %s: %w", bucket.Key, crawler.ErrNotFound)
	}
	s.records[bucket.Key] = data
	s.saves++
	return nil
}

// ListBuckets yields records in key order. The key set is captured when
// iteration starts.
func (s *Store) ListBuckets(ctx context.Context) iter.Seq2[crawler.Bucket, error] {
	return func(yield func(crawler.Bucket, error) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.records))
		for key := range s.records {
			keys = append(keys, key)
		}
		s.mu.RUnlock()
		slices.Sort(keys)

		for _, key := range keys {
			bucket, err := s.LoadBucket(ctx, key)
			if !yield(bucket, err) || err != nil {
				return
			}
		}
	}
}

// Saves returns how many successful SaveBucket calls the store has seen.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
