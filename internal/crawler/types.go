// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Status represents the processing state of a domain bucket.
type Status string

// Bucket status values persisted in the state store. Any value other than
// StatusComplete is treated as pending.
const (
	StatusPending  Status = ""
	StatusComplete Status = "complete"
)

// BlockedMessage is recorded as the attempt error when the search engine
// answers with an anti-automation challenge.
const BlockedMessage = "CAPTCHA detected"

// Company is one organization row read from the input file.
type Company struct {
	Name      string `json:"company_name"`
	LegalName string `json:"legal_name"`
	URL       string `json:"url"`
}

// Attempt records the outcome of a single search query. Exactly one of
// PageSource or Error is set.
type Attempt struct {
	Timestamp  float64 `json:"timestamp"`
	URL        string  `json:"url"`
	PageSource *string `json:"page_source,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// NewSuccessAttempt builds an attempt carrying the fetched page.
func NewSuccessAttempt(at time.Time, queryURL, page string) Attempt {
	return Attempt{Timestamp: unixSeconds(at), URL: queryURL, PageSource: &page}
}

// NewFailedAttempt builds an attempt carrying a failure description.
func NewFailedAttempt(at time.Time, queryURL, reason string) Attempt {
	return Attempt{Timestamp: unixSeconds(at), URL: queryURL, Error: &reason}
}

// Failed reports whether the attempt recorded an error instead of a page.
func (a Attempt) Failed() bool {
	return a.Error != nil
}

// Time converts the persisted unix timestamp back to a time.Time.
func (a Attempt) Time() time.Time {
	sec := int64(a.Timestamp)
	nsec := int64((a.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Bucket is the persisted unit of crawl progress: every company sharing one
// registered domain, plus the append-only log of search attempts.
type Bucket struct {
	Key       string    `json:"-"`
	Companies []Company `json:"companies"`
	Status    Status    `json:"status,omitempty"`
	Crawl     []Attempt `json:"crawl"`
}

// Complete reports whether the bucket has reached its terminal state.
func (b Bucket) Complete() bool {
	return b.Status == StatusComplete
}

// Fresh returns the initial persisted form of the bucket: same key and
// companies, pending, with an empty crawl log.
func (b Bucket) Fresh() Bucket {
	return Bucket{
		Key:       b.Key,
		Companies: append([]Company(nil), b.Companies...),
		Crawl:     []Attempt{},
	}
}

// LastAttempt returns the most recent attempt, if any.
func (b Bucket) LastAttempt() (Attempt, bool) {
	if len(b.Crawl) == 0 {
		return Attempt{}, false
	}
	return b.Crawl[len(b.Crawl)-1], true
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// SearchResult is what the search collaborator hands back for one domain.
// Err is set for navigation or network failures; Blocked is set when the
// returned page is an anti-automation challenge.
type SearchResult struct {
	QueryURL    string
	PageContent string
	Blocked     bool
	Err         error
}

// PassSummary reports what one orchestrator pass did.
type PassSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Processed     int       `json:"processed"`
	Skipped       int       `json:"skipped"`
	Errored       int       `json:"errored"`
	Outcome       string    `json:"outcome"`
	BlockedDomain string    `json:"blocked_domain,omitempty"`
}

// Pass outcomes published with the summary.
const (
	OutcomeFinished = "finished"
	OutcomeBlocked  = "blocked"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)
