// Package postgres provides a Postgres-backed bucket state store. Each domain
// is one row holding the JSON record.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/domainkey"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable    = "policy_buckets"
	defaultPageSize = 100
)

// Config controls the Postgres connection pool used for bucket rows.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	// PageSize bounds how many rows one listing query fetches.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store reads and writes bucket rows.
type Store struct {
	pool     pool
	table    string
	pageSize int
	logger   *zap.Logger
}

// NewStore connects to Postgres and makes sure the bucket table exists.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(p, cfg, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, cfg Config, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, table: table, pageSize: pageSize, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the bucket table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	domain     TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// EnsureBucket inserts a pending row unless one exists for the domain.
func (s *Store) EnsureBucket(ctx context.Context, bucket crawler.Bucket) (bool, error) {
	if err := checkKey(bucket.Key); err != nil {
		return false, err
	}
	data, err := json.Marshal(bucket.Fresh())
	if err != nil {
		return false, fmt.Errorf("encode bucket: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (domain, record) VALUES ($1, $2) ON CONFLICT (domain) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, bucket.Key, data)
	if err != nil {
		return false, fmt.Errorf("insert bucket %s: %w", bucket.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadBucket reads the row for key.
func (s *Store) LoadBucket(ctx context.Context, key string) (crawler.Bucket, error) {
	if err := checkKey(key); err != nil {
		return crawler.Bucket{}, err
	}
	query := fmt.Sprintf(`SELECT record FROM %s WHERE domain = $1`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Bucket{}, fmt.Errorf("load %s: %w", key, crawler.ErrNotFound)
		}
		return crawler.Bucket{}, fmt.Errorf("select bucket %s: %w", key, err)
	}
	return decode(key, data)
}

// SaveBucket replaces the row for bucket.Key in a single statement.
func (s *Store) SaveBucket(ctx context.Context, bucket crawler.Bucket) error {
	if err := checkKey(bucket.Key); err != nil {
		return err
	}
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET record = $2, updated_at = now() WHERE domain = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, bucket.Key, data)
	if err != nil {
		return fmt.Errorf("update bucket %s: %w", bucket.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save %s: %w", bucket.Key, crawler.ErrNotFound)
	}
	return nil
}

// ListBuckets yields every row in domain order, one page at a time.
func (s *Store) ListBuckets(ctx context.Context) iter.Seq2[crawler.Bucket, error] {
	return func(yield func(crawler.Bucket, error) bool) {
		query := fmt.Sprintf(`SELECT domain, record FROM %s WHERE domain > $1 ORDER BY domain LIMIT $2`, s.table)
		after := ""
		for {
			page, err := s.page(ctx, query, after)
			if err != nil {
				yield(crawler.Bucket{}, err)
				return
			}
			for _, bucket := range page {
				if !yield(bucket, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].Key
		}
	}
}

func (s *Store) page(ctx context.Context, query, after string) ([]crawler.Bucket, error) {
	rows, err := s.pool.Query(ctx, query, after, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var page []crawler.Bucket
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		bucket, err := decode(key, data)
		if err != nil {
			return nil, err
		}
		page = append(page, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	s.logger.Debug("listed bucket page", zap.String("after", after), zap.Int("rows", len(page)))
	return page, nil
}

func decode(key string, data []byte) (crawler.Bucket, error) {
	var bucket crawler.Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return crawler.Bucket{}, fmt.Errorf("decode bucket %s: %w", key, err)
	}
	bucket.Key = key
	return bucket, nil
}

func checkKey(key string) error {
	if !domainkey.Valid(key) {
		return fmt.Errorf("invalid bucket key %q", key)
	}
	return nil
}
