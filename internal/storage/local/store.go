// Package local implements the bucket state store on the local filesystem:
// one directory per registered domain holding a company_data.json record.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/domainkey"
)

// RecordFile is the name of the per-domain record.
const RecordFile = "company_data.json"

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory holding one directory per domain.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store persists bucket records as JSON files.
type Store struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a store rooted at cfg.BaseDir, creating the directory when
// needed and verifying it is writable.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir), logger: logger}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// EnsureBucket creates the domain directory and a pending record unless a
// record already exists. The record appears atomically: it is written to a
// temporary file and hard-linked into place, which fails if another record
// got there first.
func (s *Store) EnsureBucket(_ context.Context, bucket crawler.Bucket) (bool, error) {
	dir, err := s.dir(bucket.Key)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("create bucket directory: %w", err)
	}
	target := filepath.Join(dir, RecordFile)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat record: %w", err)
	}

	data, err := json.Marshal(bucket.Fresh())
	if err != nil {
		return false, fmt.Errorf("encode bucket: %w", err)
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return false, err
	}
	defer removeQuietly(tmp)

	if err := os.Link(tmp, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("publish record: %w", err)
	}
	return true, nil
}

// LoadBucket reads the record for key.
func (s *Store) LoadBucket(_ context.Context, key string) (crawler.Bucket, error) {
	dir, err := s.dir(key)
	if err != nil {
		return crawler.Bucket{}, err
	}
	// #nosec G304 -- path is built from a validated domain key under baseDir.
	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err != nil {
		if os.IsNotExist(err) {
			return crawler.Bucket{}, fmt.Errorf("load %s: %w", key, crawler.ErrNotFound)
		}
		return crawler.Bucket{}, fmt.Errorf("read record %s: %w", key, err)
	}
	var bucket crawler.Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return crawler.Bucket{}, fmt.Errorf("decode record %s: %w", key, err)
	}
	bucket.Key = key
	return bucket, nil
}

// SaveBucket replaces the record for bucket.Key. The new content is fully
// written and synced to a temporary file before being renamed over the old
// record, so a crash leaves either the old or the new record.
func (s *Store) SaveBucket(_ context.Context, bucket crawler.Bucket) error {
	dir, err := s.dir(bucket.Key)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, RecordFile)
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("save %s: %w", bucket.Key, crawler.ErrNotFound)
		}
		return fmt.Errorf("stat record: %w", err)
	}

	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		removeQuietly(tmp)
		return fmt.Errorf("replace record: %w", err)
	}
	syncDir(dir)
	return nil
}

// ListBuckets yields every record under the base directory in lexical
// domain order. Directories without a record are skipped.
func (s *Store) ListBuckets(ctx context.Context) iter.Seq2[crawler.Bucket, error] {
	return func(yield func(crawler.Bucket, error) bool) {
		entries, err := os.ReadDir(s.baseDir)
		if err != nil {
			yield(crawler.Bucket{}, fmt.Errorf("read base directory: %w", err))
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || !domainkey.Valid(entry.Name()) {
				continue
			}
			bucket, err := s.LoadBucket(ctx, entry.Name())
			if errors.Is(err, crawler.ErrNotFound) {
				s.logger.Debug("no company data file found", zap.String("dir", entry.Name()))
				continue
			}
			if err != nil {
				yield(crawler.Bucket{Key: entry.Name()}, err)
				return
			}
			if !yield(bucket, nil) {
				return
			}
		}
	}
}

func (s *Store) dir(key string) (string, error) {
	if !domainkey.Valid(key) {
		return "", fmt.Errorf("invalid bucket key %q", key)
	}
	full := filepath.Join(s.baseDir, key)
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".company_data-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp record: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		removeQuietly(name)
		return "", fmt.Errorf("write temp record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		removeQuietly(name)
		return "", fmt.Errorf("sync temp record: %w", err)
	}
	if err := f.Close(); err != nil {
		removeQuietly(name)
		return "", fmt.Errorf("close temp record: %w", err)
	}
	return name, nil
}

// removeQuietly drops a temp file. Leftovers are harmless: they never match
// the record name and listing ignores them.
func removeQuietly(path string) {
	_ = os.Remove(path)
}

// syncDir flushes the rename to disk. Failures are ignored; not every
// platform supports syncing directories.
func syncDir(dir string) {
	// #nosec G304 -- dir is a validated bucket directory.
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
