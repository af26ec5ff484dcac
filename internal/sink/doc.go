// Package sink delivers completed tasks to persistent storage.
//
// Submissions are fire-and-forget: the caller never blocks and never learns
// whether delivery succeeded. Behind Submit sits a bounded queue drained by a
// small worker pool that is rate limited and retries failed writes with
// jittered exponential backoff. When the queue is full the record is dropped.
//
// Response and metadata maps pass through the configured Anonymizer before
// they are serialized, so identifying fields never reach the backend.
package sink
