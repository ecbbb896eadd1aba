// Package jobs contains the background processing core: the handler
// registry, the lease-based worker pool that executes persisted jobs, the
// cron dispatcher that enqueues scheduled work, and the handlers for each
// job type.
//
// Execution guarantees are exactly-once per attempt: the store's atomic
// claim ensures no two workers run the same attempt, and an expired lease
// makes a stalled job claimable again. Handlers are therefore written to
// be idempotent, so a re-run after a crashed worker converges instead of
// double-applying.
package jobs
