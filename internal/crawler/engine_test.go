package crawler_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/policy-search-crawler/internal/publisher/memory"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/memory"
)

// MockSearcher is a mock implementation of the Searcher interface.
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, domain string) crawler.SearchResult {
	args := m.Called(ctx, domain)
	return args.Get(0).(crawler.SearchResult)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedStore(t *testing.T, keys ...string) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for _, key := range keys {
		_, err := store.EnsureBucket(context.Background(), crawler.Bucket{
			Key:       key,
			Companies: []crawler.Company{{Name: key, URL: "https://www." + key + "/about"}},
		})
		require.NoError(t, err)
	}
	return store
}

func okResult(domain string) crawler.SearchResult {
	return crawler.SearchResult{QueryURL: "q:" + domain, PageContent: "<html>" + domain + "</html>"}
}

func newEngine(store crawler.Store, searcher crawler.Searcher) *crawler.Engine {
	return crawler.NewEngine(crawler.EngineConfig{RunID: "run-1"}, store, searcher, nil, nil, fixedClock{testNow}, nil)
}

func TestRunPassSuccessMarksComplete(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com", "b.com")
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	searcher.On("Search", mock.Anything, "b.com").Return(okResult("b.com")).Once()

	summary, err := newEngine(store, searcher).RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Zero(t, summary.Skipped)
	require.Equal(t, crawler.OutcomeFinished, summary.Outcome)
	searcher.AssertExpectations(t)

	bucket, err := store.LoadBucket(context.Background(), "a.com")
	require.NoError(t, err)
	require.True(t, bucket.Complete())
	require.Len(t, bucket.Crawl, 1)
	attempt := bucket.Crawl[0]
	require.Equal(t, "q:a.com", attempt.URL)
	require.NotNil(t, attempt.PageSource)
	require.Equal(t, "<html>a.com</html>", *attempt.PageSource)
	require.Nil(t, attempt.Error)
	require.True(t, testNow.Equal(attempt.Time()))
}

func TestRunPassNeverRequeriesCompleteBuckets(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com", "b.com", "c.com")
	searcher := new(MockSearcher)
	for _, key := range []string{"a.com", "b.com", "c.com"} {
		searcher.On("Search", mock.Anything, key).Return(okResult(key)).Once()
	}
	engine := newEngine(store, searcher)

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	for range 3 {
		summary, err := engine.RunPass(context.Background())
		require.NoError(t, err)
		require.Zero(t, summary.Processed)
		require.Equal(t, 3, summary.Skipped)
	}
	searcher.AssertNumberOfCalls(t, "Search", 3)
}

func TestRunPassResumesAfterInterruption(t *testing.T) {
	t.Parallel()

	keys := []string{"a.com", "b.com", "c.com", "d.com"}
	store := seedStore(t, keys...)

	ctx, cancel := context.WithCancel(context.Background())
	first := new(MockSearcher)
	first.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	first.On("Search", mock.Anything, "b.com").Return(okResult("b.com")).Once()
	first.On("Search", mock.Anything, "c.com").Return(okResult("c.com")).Once().Run(func(mock.Arguments) {
		cancel()
	})

	_, err := newEngine(store, first).RunPass(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// c.com was interrupted mid-query and must not have been persisted.
	c, err := store.LoadBucket(context.Background(), "c.com")
	require.NoError(t, err)
	require.False(t, c.Complete())
	require.Empty(t, c.Crawl)

	second := new(MockSearcher)
	second.On("Search", mock.Anything, "c.com").Return(okResult("c.com")).Once()
	second.On("Search", mock.Anything, "d.com").Return(okResult("d.com")).Once()

	summary, err := newEngine(store, second).RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 2, summary.Skipped)
	second.AssertExpectations(t)
	second.AssertNotCalled(t, "Search", mock.Anything, "a.com")
	second.AssertNotCalled(t, "Search", mock.Anything, "b.com")
}

func TestRunPassBlockHaltsRun(t *testing.T) {
	t.Parallel()

	keys := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}
	store := seedStore(t, keys...)
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	searcher.On("Search", mock.Anything, "b.com").Return(okResult("b.com")).Once()
	searcher.On("Search", mock.Anything, "c.com").Return(crawler.SearchResult{
		QueryURL:    "q:c.com",
		PageContent: "<form id=captcha-form>",
		Blocked:     true,
	}).Once()

	summary, err := newEngine(store, searcher).RunPass(context.Background())
	require.ErrorIs(t, err, crawler.ErrBlocked)
	var blocked *crawler.BlockedError
	require.True(t, errors.As(err, &blocked))
	require.Equal(t, "c.com", blocked.Domain)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, crawler.OutcomeBlocked, summary.Outcome)
	require.Equal(t, "c.com", summary.BlockedDomain)

	for _, key := range []string{"a.com", "b.com"} {
		bucket, err := store.LoadBucket(context.Background(), key)
		require.NoError(t, err)
		require.True(t, bucket.Complete(), key)
	}

	c, err := store.LoadBucket(context.Background(), "c.com")
	require.NoError(t, err)
	require.False(t, c.Complete())
	require.Len(t, c.Crawl, 1)
	require.NotNil(t, c.Crawl[0].Error)
	require.Equal(t, crawler.BlockedMessage, *c.Crawl[0].Error)
	require.Nil(t, c.Crawl[0].PageSource)

	for _, key := range []string{"d.com", "e.com"} {
		bucket, err := store.LoadBucket(context.Background(), key)
		require.NoError(t, err)
		require.False(t, bucket.Complete(), key)
		require.Empty(t, bucket.Crawl, key)
		searcher.AssertNotCalled(t, "Search", mock.Anything, key)
	}
}

func TestRunPassBlockedBucketRetriedNextPass(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com")
	blockedOnce := new(MockSearcher)
	blockedOnce.On("Search", mock.Anything, "a.com").Return(crawler.SearchResult{Blocked: true}).Once()
	_, err := newEngine(store, blockedOnce).RunPass(context.Background())
	require.ErrorIs(t, err, crawler.ErrBlocked)

	retry := new(MockSearcher)
	retry.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	_, err = newEngine(store, retry).RunPass(context.Background())
	require.NoError(t, err)

	bucket, err := store.LoadBucket(context.Background(), "a.com")
	require.NoError(t, err)
	require.True(t, bucket.Complete())
	require.Len(t, bucket.Crawl, 2)
	require.True(t, bucket.Crawl[0].Failed())
	require.False(t, bucket.Crawl[1].Failed())
}

func TestRunPassSearchErrorIsTerminal(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com", "b.com")
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(crawler.SearchResult{
		QueryURL: "q:a.com",
		Err:      errors.New("net::ERR_NAME_NOT_RESOLVED"),
	}).Once()
	searcher.On("Search", mock.Anything, "b.com").Return(okResult("b.com")).Once()

	summary, err := newEngine(store, searcher).RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Errored)

	bucket, err := store.LoadBucket(context.Background(), "a.com")
	require.NoError(t, err)
	require.True(t, bucket.Complete())
	require.Len(t, bucket.Crawl, 1)
	require.Equal(t, "net::ERR_NAME_NOT_RESOLVED", *bucket.Crawl[0].Error)
}

func TestRunPassUsesFirstCompanyDomain(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	_, err := store.EnsureBucket(context.Background(), crawler.Bucket{
		Key: "acme.com",
		Companies: []crawler.Company{
			{Name: "Acme", URL: "https://careers.acme.com/jobs"},
			{Name: "Acme 2", URL: "acme.com"},
		},
	})
	require.NoError(t, err)
	_, err = store.EnsureBucket(context.Background(), crawler.Bucket{Key: "orphan.org"})
	require.NoError(t, err)

	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "acme.com").Return(okResult("acme.com")).Once()
	searcher.On("Search", mock.Anything, "orphan.org").Return(okResult("orphan.org")).Once()

	_, err = newEngine(store, searcher).RunPass(context.Background())
	require.NoError(t, err)
	searcher.AssertExpectations(t)
}

// failingStore wraps a store and fails SaveBucket for one key.
type failingStore struct {
	crawler.Store
	failKey string
}

func (s *failingStore) SaveBucket(ctx context.Context, bucket crawler.Bucket) error {
	if bucket.Key == s.failKey {
		return errors.New("disk full")
	}
	return s.Store.SaveBucket(ctx, bucket)
}

func TestRunPassStorageErrorHalts(t *testing.T) {
	t.Parallel()

	inner := seedStore(t, "a.com", "b.com", "c.com")
	store := &failingStore{Store: inner, failKey: "b.com"}
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	searcher.On("Search", mock.Anything, "b.com").Return(okResult("b.com")).Once()

	summary, err := newEngine(store, searcher).RunPass(context.Background())
	require.Error(t, err)
	var storageErr *crawler.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "b.com", storageErr.Key)
	require.Equal(t, crawler.OutcomeFailed, summary.Outcome)
	require.Equal(t, 1, summary.Processed)
	searcher.AssertNotCalled(t, "Search", mock.Anything, "c.com")
}

// brokenListStore yields one good record and then a decode failure.
type brokenListStore struct {
	crawler.Store
}

func (s brokenListStore) ListBuckets(ctx context.Context) iter.Seq2[crawler.Bucket, error] {
	return func(yield func(crawler.Bucket, error) bool) {
		for bucket, err := range s.Store.ListBuckets(ctx) {
			if !yield(bucket, err) {
				return
			}
		}
		yield(crawler.Bucket{Key: "corrupt.com"}, errors.New("unexpected end of JSON input"))
	}
}

func TestRunPassListErrorHalts(t *testing.T) {
	t.Parallel()

	store := brokenListStore{Store: seedStore(t, "a.com")}
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()

	_, err := newEngine(store, searcher).RunPass(context.Background())
	var storageErr *crawler.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "corrupt.com", storageErr.Key)
}

type countingPacer struct {
	calls int
	err   error
}

func (p *countingPacer) Wait(context.Context) error {
	p.calls++
	return p.err
}

func TestRunPassWaitsOnPacerPerQuery(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com", "b.com")
	require.NoError(t, store.SaveBucket(context.Background(), crawler.Bucket{
		Key:    "b.com",
		Status: crawler.StatusComplete,
	}))
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	pacer := &countingPacer{}

	engine := crawler.NewEngine(crawler.EngineConfig{}, store, searcher, pacer, nil, nil, nil)
	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pacer.calls)
}

func TestRunPassPacerErrorLeavesBucketPending(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com")
	searcher := new(MockSearcher)
	pacer := &countingPacer{err: context.DeadlineExceeded}

	engine := crawler.NewEngine(crawler.EngineConfig{}, store, searcher, pacer, nil, nil, nil)
	summary, err := engine.RunPass(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, crawler.OutcomeCanceled, summary.Outcome)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)

	bucket, err := store.LoadBucket(context.Background(), "a.com")
	require.NoError(t, err)
	require.False(t, bucket.Complete())
}

func TestRunPassPublishesSummary(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com", "b.com")
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	searcher.On("Search", mock.Anything, "b.com").Return(crawler.SearchResult{Blocked: true}).Once()
	pub := pubmemory.New()

	engine := crawler.NewEngine(
		crawler.EngineConfig{RunID: "run-42", Topic: "policycrawl-passes"},
		store, searcher, nil, pub, fixedClock{testNow}, nil,
	)
	_, err := engine.RunPass(context.Background())
	require.ErrorIs(t, err, crawler.ErrBlocked)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "policycrawl-passes", msgs[0].Topic)
	var summary crawler.PassSummary
	require.NoError(t, pub.Decode(0, &summary))
	require.Equal(t, "run-42", summary.RunID)
	require.Equal(t, crawler.OutcomeBlocked, summary.Outcome)
	require.Equal(t, "b.com", summary.BlockedDomain)
	require.Equal(t, 1, summary.Processed)
}

func TestRunPassPublishFailureDoesNotFailPass(t *testing.T) {
	t.Parallel()

	store := seedStore(t, "a.com")
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "a.com").Return(okResult("a.com")).Once()
	pub := pubmemory.New()
	pub.FailWith(errors.New("pubsub unavailable"))

	engine := crawler.NewEngine(crawler.EngineConfig{Topic: "t"}, store, searcher, nil, pub, nil, nil)
	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)
}

func TestRunPassEmptyStore(t *testing.T) {
	t.Parallel()

	searcher := new(MockSearcher)
	summary, err := newEngine(memory.NewStore(), searcher).RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Processed)
	require.Zero(t, summary.Skipped)
}

func TestReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(t, "a.com", "b.com", "c.com", "d.com")
	require.NoError(t, store.SaveBucket(ctx, crawler.Bucket{
		Key:    "a.com",
		Status: crawler.StatusComplete,
		Crawl:  []crawler.Attempt{crawler.NewSuccessAttempt(testNow, "q", "<html/>")},
	}))
	require.NoError(t, store.SaveBucket(ctx, crawler.Bucket{
		Key:    "b.com",
		Status: crawler.StatusComplete,
		Crawl:  []crawler.Attempt{crawler.NewFailedAttempt(testNow, "q", "timeout")},
	}))
	require.NoError(t, store.SaveBucket(ctx, crawler.Bucket{
		Key:   "c.com",
		Crawl: []crawler.Attempt{crawler.NewFailedAttempt(testNow, "q", crawler.BlockedMessage)},
	}))

	report, err := crawler.Report(ctx, store)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusReport{
		Total:         4,
		Pending:       2,
		Complete:      2,
		CompleteError: 1,
		Retrying:      1,
		Attempts:      3,
	}, report)
}
