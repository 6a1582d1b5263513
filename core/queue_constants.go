package core

import "time"

// Redis keys of the sync job queue and the default visibility timeout.
const (
	PendingQueueKey    = "pending_sync_jobs"
	ProcessingQueueKey = "processing_sync_jobs"
	// DefaultVisibilityTimeout is how long a worker may hold a job before it is reclaimed.
	DefaultVisibilityTimeout = 2 * time.Minute
)
