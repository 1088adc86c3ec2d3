package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-search-crawler/internal/app"
	"github.com/JakeFAU/policy-search-crawler/internal/config"
	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/local"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/memory"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Storage: config.StorageConfig{
			Backend: config.BackendLocal,
			Local:   local.Config{BaseDir: filepath.Join(t.TempDir(), "assets")},
		},
		Search: config.SearchConfig{Backend: config.SearchHTTP},
	}
}

type staticSearcher struct{}

func (staticSearcher) Search(_ context.Context, domain string) crawler.SearchResult {
	return crawler.SearchResult{QueryURL: "q:" + domain, PageContent: "<html/>"}
}

func TestNewLocalHTTP(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &local.Store{}, a.Store())
	assert.NotNil(t, a.Logger())

	engine, err := a.Engine()
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewHeadlessDoesNotLaunchBrowser(t *testing.T) {
	t.Parallel()

	cfg := localConfig(t)
	cfg.Search.Backend = config.SearchHeadless
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.Close()
	a.Close()
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cfg := localConfig(t)
	cfg.Storage.Backend = "s3"
	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = localConfig(t)
	cfg.Search.Backend = "bing"
	_, err = app.New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestAssembleRunsPass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.EnsureBucket(ctx, crawler.Bucket{
		Key:       "acme.com",
		Companies: []crawler.Company{{Name: "Acme", URL: "https://acme.com"}},
	})
	require.NoError(t, err)

	a := app.Assemble(config.Config{}, nil, app.Components{Store: store, Searcher: staticSearcher{}})
	defer a.Close()

	engine, err := a.Engine()
	require.NoError(t, err)
	summary, err := engine.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.NotEmpty(t, summary.RunID)

	bucket, err := store.LoadBucket(ctx, "acme.com")
	require.NoError(t, err)
	assert.True(t, bucket.Complete())
	assert.Equal(t, "q:acme.com", bucket.Crawl[0].URL)
}

func TestEngineRequiresSearcher(t *testing.T) {
	t.Parallel()

	a := app.Assemble(config.Config{}, nil, app.Components{Store: memory.NewStore()})
	_, err := a.Engine()
	require.Error(t, err)
}

func TestCloseWritesMetricsTextfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policycrawl.prom")
	cfg := config.Config{Metrics: config.MetricsConfig{TextfilePath: path}}
	app.Assemble(cfg, nil, app.Components{Store: memory.NewStore()}).Close()

	// #nosec G304 -- test reads its own temp file.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "policycrawl_")
}
