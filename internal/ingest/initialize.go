package ingest

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/metrics"
)

// Summary reports what Initialize did.
type Summary struct {
	Stats
	Created  int
	Existing int
}

// Initialize reads the organization file, groups it by domain and creates a
// pending record for every domain the store does not know yet. Existing
// records are left untouched, so re-running never resets crawl progress.
// A malformed row aborts before anything is written.
func Initialize(ctx context.Context, r io.Reader, store crawler.Store, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	companies, err := ReadRows(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read companies: %w", err)
	}
	buckets, stats := BuildBuckets(companies)
	logger.Info("companies grouped by domain",
		zap.Int("companies", stats.Companies),
		zap.Int("without_url", stats.NoURL),
		zap.Int("unparsable_url", stats.Unparsable),
		zap.Int("unique_domains", stats.UniqueDomains),
	)

	summary := Summary{Stats: stats}
	for _, bucket := range buckets.All() {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("initialize canceled: %w", err)
		}
		created, err := store.EnsureBucket(ctx, bucket.Fresh())
		if err != nil {
			return summary, &crawler.StorageError{Op: "ensure bucket", Key: bucket.Key, Err: err}
		}
		if created {
			summary.Created++
			metrics.ObserveSeed(metrics.SeedCreated)
			logger.Debug("bucket created", zap.String("domain", bucket.Key))
		} else {
			summary.Existing++
			metrics.ObserveSeed(metrics.SeedExisting)
		}
	}
	logger.Info("state store initialized",
		zap.Int("created", summary.Created),
		zap.Int("existing", summary.Existing),
	)
	return summary, nil
}
