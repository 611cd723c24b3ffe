// Package main hosts the postsync command line.
//
// Architecture overview:
//   - Crawl: each enabled listing crawler (sources.enabled) scrapes its listing page through the
//     Colly fetcher, throttled per host, and normalizes items into posts. Crawlers run in parallel
//     and any failure aborts the run before anything is written.
//   - Enrich: every post's own page is fetched once for its embedded player and, for sources that
//     carry one, its publication date. Pages whose player is injected by script are re-fetched with
//     headless Chrome when headless.enabled is set. Player URLs become deduplicated media records.
//   - Batch: the posts newer than the last checkpoint become one write-set of artists, works,
//     featured links, media and posts, committed atomically with the new checkpoint.
//   - Report: the run report is archived (memory, local or GCS) and announced on Pub/Sub.
//
// Commands:
//   - postsync sync: one run, then exit. Non-zero exit when the run fails.
//   - postsync serve: HTTP API (/healthz, /readyz, /metrics, /v1/runs, /v1/runs/last,
//     /v1/checkpoint) plus a run every schedule.interval.
//   - postsync backfill: enrich stored posts that still have no media.
//
// Configuration comes from an optional file (--config), a .env file and POSTSYNC_* environment
// variables, e.g. POSTSYNC_STORE_DRIVER=postgres POSTSYNC_STORE_DSN=postgres://...
package main
