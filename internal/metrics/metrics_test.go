package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveBucket(t *testing.T) {
	before := testutil.ToFloat64(bucketsTotal.WithLabelValues(OutcomeBlocked))
	ObserveBucket(OutcomeBlocked)
	after := testutil.ToFloat64(bucketsTotal.WithLabelValues(OutcomeBlocked))
	require.InDelta(t, before+1, after, 0.0001)
}

func TestObserveSeed(t *testing.T) {
	before := testutil.ToFloat64(seedTotal.WithLabelValues(SeedCreated))
	ObserveSeed(SeedCreated)
	ObserveSeed(SeedCreated)
	after := testutil.ToFloat64(seedTotal.WithLabelValues(SeedCreated))
	require.InDelta(t, before+2, after, 0.0001)
}

func TestWriteTextfile(t *testing.T) {
	ObserveBucket(OutcomeSuccess)
	ObserveQuery(3 * time.Second)
	ObservePacingDelay(time.Second)
	MarkPassFinished(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "policycrawl.prom")
	require.NoError(t, WriteTextfile(path))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.True(t, strings.Contains(text, `policycrawl_buckets_total{outcome="success"}`))
	require.True(t, strings.Contains(text, "policycrawl_query_duration_seconds_bucket"))
	require.True(t, strings.Contains(text, "policycrawl_last_pass_timestamp_seconds"))
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	require.Error(t, err)
}
