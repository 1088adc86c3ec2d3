package crawler

import (
	"context"
)

// StatusReport counts records by state.
type StatusReport struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Complete      int `json:"complete"`
	CompleteError int `json:"complete_with_error"`
	Retrying      int `json:"pending_after_block"`
	Attempts      int `json:"attempts"`
}

// Report walks the store without modifying it.
func Report(ctx context.Context, store Store) (StatusReport, error) {
	var report StatusReport
	for bucket, err := range store.ListBuckets(ctx) {
		if err != nil {
			return report, &StorageError{Op: "list buckets", Key: bucket.Key, Err: err}
		}
		report.Total++
		report.Attempts += len(bucket.Crawl)
		last, hasAttempt := bucket.LastAttempt()
		switch {
		case bucket.Complete():
			report.Complete++
			if hasAttempt && last.Failed() {
				report.CompleteError++
			}
		default:
			report.Pending++
			if hasAttempt {
				report.Retrying++
			}
		}
	}
	return report, nil
}
