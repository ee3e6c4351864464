// Package batch executes queues of remote mutations under the tracker's
// request quota.
//
// An Executor runs operations in batches of Policy.BatchSize with at most
// Policy.MaxConcurrent in flight, spaces operation starts by Policy.StartDelay,
// and pauses Policy.BatchPause between batches. Operations that fail with a
// transient error are retried with linear backoff; operations that exhaust
// their retries are reported as failed and the queue continues.
//
// Cancellation is honored between batches only. Operations already started run
// to completion on a context detached from the caller's cancellation, so a
// remote object is never created without the caller seeing the result.
package batch
