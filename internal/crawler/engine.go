package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/domainkey"
	"github.com/JakeFAU/policy-search-crawler/internal/metrics"
)

// EngineConfig controls Engine behavior.
type EngineConfig struct {
	RunID string
	// Topic receives a PassSummary when a pass ends. Empty disables publishing.
	Topic string
}

// Engine walks the state store one bucket at a time and runs the policy
// search for every bucket that is not complete yet.
type Engine struct {
	cfg       EngineConfig
	store     Store
	searcher  Searcher
	pacer     Pacer
	publisher Publisher
	clock     Clock
	logger    *zap.Logger
}

// NewEngine wires an Engine. pacer, publisher and clock may be nil.
func NewEngine(
	cfg EngineConfig,
	store Store,
	searcher Searcher,
	pacer Pacer,
	publisher Publisher,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		searcher:  searcher,
		pacer:     pacer,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With(zap.String("run_id", cfg.RunID)),
	}
}

// RunPass processes every pending bucket once, strictly sequentially.
//
// A bucket whose attempt was persisted is never queried again. When the
// search engine answers with a challenge page the attempt is persisted, the
// bucket stays pending and the pass stops with a *BlockedError. Storage
// failures stop the pass with a *StorageError. Per-bucket search errors are
// recorded on the bucket and do not stop the pass.
func (e *Engine) RunPass(ctx context.Context) (PassSummary, error) {
	summary := PassSummary{RunID: e.cfg.RunID, StartedAt: e.clock.Now()}
	e.logger.Info("crawl pass started")

	err := e.runPass(ctx, &summary)

	summary.FinishedAt = e.clock.Now()
	summary.Outcome = outcomeOf(err)
	metrics.MarkPassFinished(summary.FinishedAt)
	e.publish(ctx, summary)

	fields := []zap.Field{
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
		zap.String("outcome", summary.Outcome),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if err != nil {
		e.logger.Warn("crawl pass stopped", append(fields, zap.Error(err))...)
		return summary, err
	}
	e.logger.Info("crawl pass finished", fields...)
	return summary, nil
}

func (e *Engine) runPass(ctx context.Context, summary *PassSummary) error {
	for bucket, err := range e.store.ListBuckets(ctx) {
		if err != nil {
			return &StorageError{Op: "list buckets", Key: bucket.Key, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl pass canceled: %w", err)
		}
		if bucket.Complete() {
			summary.Skipped++
			metrics.ObserveBucket(metrics.OutcomeSkipped)
			e.logger.Debug("already crawled", zap.String("domain", bucket.Key))
			continue
		}
		failed, err := e.processBucket(ctx, bucket)
		if err != nil {
			var blocked *BlockedError
			if errors.As(err, &blocked) {
				summary.BlockedDomain = blocked.Domain
			}
			return err
		}
		summary.Processed++
		if failed {
			summary.Errored++
		}
	}
	return nil
}

// processBucket runs one query for bucket and persists the attempt. It
// reports whether the attempt recorded a search error.
func (e *Engine) processBucket(ctx context.Context, bucket Bucket) (bool, error) {
	target := queryTarget(bucket)
	logger := e.logger.With(zap.String("domain", bucket.Key), zap.String("target", target))

	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return false, fmt.Errorf("wait for query slot: %w", err)
		}
	}

	start := time.Now()
	result := e.searcher.Search(ctx, target)
	metrics.ObserveQuery(time.Since(start))

	// An interrupted query is not an attempt; the bucket stays pending and
	// is retried on the next pass.
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("crawl pass canceled during %s: %w", bucket.Key, err)
	}

	now := e.clock.Now()
	switch {
	case result.Blocked:
		bucket.Crawl = append(bucket.Crawl, NewFailedAttempt(now, result.QueryURL, BlockedMessage))
		if err := e.save(ctx, bucket); err != nil {
			return false, err
		}
		metrics.ObserveBucket(metrics.OutcomeBlocked)
		logger.Error("challenge page detected, aborting pass", zap.String("query_url", result.QueryURL))
		return false, &BlockedError{Domain: bucket.Key, QueryURL: result.QueryURL}

	case result.Err != nil:
		bucket.Crawl = append(bucket.Crawl, NewFailedAttempt(now, result.QueryURL, result.Err.Error()))
		bucket.Status = StatusComplete
		if err := e.save(ctx, bucket); err != nil {
			return false, err
		}
		metrics.ObserveBucket(metrics.OutcomeError)
		logger.Warn("search failed", zap.Error(result.Err))
		return true, nil

	default:
		bucket.Crawl = append(bucket.Crawl, NewSuccessAttempt(now, result.QueryURL, result.PageContent))
		bucket.Status = StatusComplete
		if err := e.save(ctx, bucket); err != nil {
			return false, err
		}
		metrics.ObserveBucket(metrics.OutcomeSuccess)
		logger.Info("search results stored", zap.Int("bytes", len(result.PageContent)))
		return false, nil
	}
}

func (e *Engine) save(ctx context.Context, bucket Bucket) error {
	// The attempt is already spent; persist it even if the pass is being
	// canceled.
	if err := e.store.SaveBucket(context.WithoutCancel(ctx), bucket); err != nil {
		return &StorageError{Op: "save bucket", Key: bucket.Key, Err: err}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, summary PassSummary) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := e.publisher.Publish(pubCtx, e.cfg.Topic, summary)
	if err != nil {
		e.logger.Warn("publish pass summary failed", zap.Error(err))
		return
	}
	e.logger.Debug("pass summary published", zap.String("message_id", id))
}

// queryTarget derives the search domain from the bucket's first company,
// falling back to the bucket key when that URL no longer parses.
func queryTarget(bucket Bucket) string {
	if len(bucket.Companies) > 0 {
		if key, ok := domainkey.FromURL(bucket.Companies[0].URL); ok {
			return key
		}
	}
	return bucket.Key
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeFinished
	case errors.Is(err, ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
