// Package cmd implements the policycrawl command line.
//
// Architecture overview:
//   - Input: `policycrawl init` reads a tab-separated organization list (name, legal name, URL), groups rows by
//     registered domain (eTLD+1) and creates one pending record per domain in the state store. Existing records are
//     never touched, so init is safe to repeat after the input grows.
//   - State store: one JSON record per domain holding the companies, a status and the append-only log of search
//     attempts. Backends: local directory tree (default), Google Cloud Storage objects, or a Postgres table.
//   - Crawl pass: `policycrawl crawl` walks the records in key order, skips complete ones and runs one site-restricted
//     search per pending domain through headless Chrome (chromedp) or plain HTTP (colly). Every attempt is saved
//     before moving on. A challenge page aborts the pass with exit code 2 and leaves the domain pending; a search
//     error is recorded and the domain is considered done.
//   - Pacing: queries are spaced by a token bucket with optional jitter.
//   - Observability: zap logs carry run_id and domain; Prometheus collectors can be written to a node-exporter
//     textfile; a pass summary can be published to Pub/Sub.
//
// Operational notes:
//   - A file lock keeps two processes from crawling the same state. Use `lock.timeout` to wait instead of failing.
//   - SIGINT/SIGTERM stop the pass between domains; a query interrupted mid-flight is not recorded and is retried
//     on the next pass.
//   - Configure via policycrawl.yaml or POLICYCRAWL_* environment variables, e.g. POLICYCRAWL_STORAGE_BACKEND=gcs.
package cmd
