// Package gcs provides a bucket state store backed by Google Cloud Storage.
// Each domain record lives at <prefix>/<domain>/company_data.json.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/domainkey"
)

const recordFile = "company_data.json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Store persists bucket records as GCS objects. Creation and replacement are
// guarded by generation preconditions so concurrent writers cannot silently
// overwrite each other.
type Store struct {
	objects objects
	prefix  string
	logger  *zap.Logger
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return newStore(bucketObjects{bucket: client.Bucket(cfg.Bucket)}, cfg.Prefix, logger), nil
}

func newStore(objs objects, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		objects: objs,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger,
	}
}

// EnsureBucket uploads a pending record unless one already exists.
func (s *Store) EnsureBucket(ctx context.Context, bucket crawler.Bucket) (bool, error) {
	name, err := s.objectName(bucket.Key)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(bucket.Fresh())
	if err != nil {
		return false, fmt.Errorf("encode bucket: %w", err)
	}
	created, err := s.objects.create(ctx, name, data)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", name, err)
	}
	return created, nil
}

// LoadBucket downloads and decodes the record for key.
func (s *Store) LoadBucket(ctx context.Context, key string) (crawler.Bucket, error) {
	bucket, _, err := s.load(ctx, key)
	return bucket, err
}

// SaveBucket replaces an existing record. Only the object metadata is read
// first; the write succeeds only if the generation is still the same.
func (s *Store) SaveBucket(ctx context.Context, bucket crawler.Bucket) error {
	name, err := s.objectName(bucket.Key)
	if err != nil {
		return err
	}
	generation, err := s.objects.generation(ctx, name)
	if errors.Is(err, errObjectMissing) {
		return fmt.Errorf("save %s: %w", bucket.Key, crawler.ErrNotFound)
	}
	if err != nil {
		return err
	}
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}
	if err := s.objects.replace(ctx, name, data, generation); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ListBuckets yields every record under the prefix in object name order.
func (s *Store) ListBuckets(ctx context.Context) iter.Seq2[crawler.Bucket, error] {
	return func(yield func(crawler.Bucket, error) bool) {
		prefix := ""
		if s.prefix != "" {
			prefix = s.prefix + "/"
		}
		for name, err := range s.objects.names(ctx, prefix) {
			if err != nil {
				yield(crawler.Bucket{}, err)
				return
			}
			key, ok := s.keyOf(name)
			if !ok {
				s.logger.Debug("skipping unrelated object", zap.String("object", name))
				continue
			}
			bucket, _, err := s.load(ctx, key)
			if errors.Is(err, crawler.ErrNotFound) {
				// Removed between listing and reading.
				continue
			}
			if err != nil {
				yield(crawler.Bucket{Key: key}, err)
				return
			}
			if !yield(bucket, nil) {
				return
			}
		}
	}
}

func (s *Store) load(ctx context.Context, key string) (crawler.Bucket, int64, error) {
	name, err := s.objectName(key)
	if err != nil {
		return crawler.Bucket{}, 0, err
	}
	data, generation, err := s.objects.read(ctx, name)
	if errors.Is(err, errObjectMissing) {
		return crawler.Bucket{}, 0, fmt.Errorf("load %s: %w", key, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Bucket{}, 0, err
	}
	var bucket crawler.Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return crawler.Bucket{}, 0, fmt.Errorf("decode %s: %w", name, err)
	}
	bucket.Key = key
	return bucket, generation, nil
}

func (s *Store) objectName(key string) (string, error) {
	if !domainkey.Valid(key) {
		return "", fmt.Errorf("invalid bucket key %q", key)
	}
	return path.Join(s.prefix, key, recordFile), nil
}

// keyOf extracts the domain from <prefix>/<domain>/company_data.json.
func (s *Store) keyOf(name string) (string, bool) {
	rest := name
	if s.prefix != "" {
		var ok bool
		rest, ok = strings.CutPrefix(name, s.prefix+"/")
		if !ok {
			return "", false
		}
	}
	key, file, ok := strings.Cut(rest, "/")
	if !ok || file != recordFile || !domainkey.Valid(key) {
		return "", false
	}
	return key, true
}
