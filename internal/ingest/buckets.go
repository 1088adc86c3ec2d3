package ingest

import (
	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/domainkey"
)

// Stats summarizes a grouping run.
type Stats struct {
	Companies     int
	NoURL         int
	Unparsable    int
	UniqueDomains int
}

// Buckets groups companies by registered domain, preserving the order in
// which each domain was first seen.
type Buckets struct {
	order []string
	byKey map[string]*crawler.Bucket
}

// BuildBuckets groups companies into one bucket per registered domain.
// Companies without a URL, or whose URL yields no domain, are left out and
// only show up in the returned stats.
func BuildBuckets(companies []crawler.Company) (*Buckets, Stats) {
	b := &Buckets{byKey: make(map[string]*crawler.Bucket)}
	stats := Stats{Companies: len(companies)}
	for _, company := range companies {
		if company.URL == "" {
			stats.NoURL++
			continue
		}
		key, ok := domainkey.FromURL(company.URL)
		if !ok {
			stats.Unparsable++
			continue
		}
		bucket, exists := b.byKey[key]
		if !exists {
			bucket = &crawler.Bucket{Key: key}
			b.byKey[key] = bucket
			b.order = append(b.order, key)
		}
		bucket.Companies = append(bucket.Companies, company)
	}
	stats.UniqueDomains = len(b.order)
	return b, stats
}

// Len returns the number of distinct domains.
func (b *Buckets) Len() int {
	return len(b.order)
}

// Get returns the bucket for key.
func (b *Buckets) Get(key string) (crawler.Bucket, bool) {
	bucket, ok := b.byKey[key]
	if !ok {
		return crawler.Bucket{}, false
	}
	return *bucket, true
}

// All returns the buckets in first-seen order.
func (b *Buckets) All() []crawler.Bucket {
	out := make([]crawler.Bucket, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.byKey[key])
	}
	return out
}
