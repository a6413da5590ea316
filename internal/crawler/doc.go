// Package crawler implements the catalog crawl engine: the retrying fetcher,
// the process-wide concurrency limiter, pagination discovery, the
// per-category crawler and the run orchestrator that merges and
// deduplicates their results.
package crawler
