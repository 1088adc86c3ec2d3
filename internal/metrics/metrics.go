// Package metrics exposes Prometheus collectors for the crawl tool.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bucket outcomes recorded by ObserveBucket.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeBlocked = "blocked"
	OutcomeSkipped = "skipped"
)

// Seed results recorded by ObserveSeed.
const (
	SeedCreated  = "created"
	SeedExisting = "existing"
)

// Registry holds every collector of this package. The tool is a batch job,
// so metrics are written to a node_exporter textfile rather than scraped.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	bucketsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policycrawl_buckets_total",
			Help: "Buckets visited by the orchestrator, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	queryDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policycrawl_query_duration_seconds",
			Help:    "Histogram of search query latencies including the settle delay.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60},
		},
	)

	pacingDelaySeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policycrawl_pacing_delay_seconds",
			Help:    "Histogram of time spent waiting for the query pacer.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	seedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policycrawl_seed_records_total",
			Help: "Records visited while seeding the state store, labeled by result.",
		},
		[]string{"result"},
	)

	lastPassTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "policycrawl_last_pass_timestamp_seconds",
			Help: "Unix time at which the last pass finished.",
		},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// ObserveBucket increments the bucket counter for the given outcome.
func ObserveBucket(outcome string) {
	bucketsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuery records how long one search query took.
func ObserveQuery(d time.Duration) {
	queryDurationSeconds.Observe(d.Seconds())
}

// ObservePacingDelay records time spent blocked on the pacer.
func ObservePacingDelay(d time.Duration) {
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveSeed increments the seed counter for the given result.
func ObserveSeed(result string) {
	seedTotal.WithLabelValues(result).Inc()
}

// MarkPassFinished stamps the last-pass gauge.
func MarkPassFinished(at time.Time) {
	lastPassTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
