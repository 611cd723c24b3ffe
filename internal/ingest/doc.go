// Package ingest defines the post/artist/work/media graph, the store
// contracts shared by every backend, and the Batcher that turns crawled
// posts into one atomic write-set.
//
// A run's writes are staged in a WriteSet and handed to Store.Commit in one
// call. Backends must apply the whole set or nothing: artist upserts merge
// the name, work upserts merge under the owning artist, featured references
// are set-unions, media records are created only when absent, posts are
// always new documents, and the checkpoint is overwritten last.
package ingest
