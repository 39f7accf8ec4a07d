package domain

import "time"

// JobStatus tracks an ingestion job through the durable queue.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// IngestJob is one queued SyncRequest.
type IngestJob struct {
	ID       string      `json:"id"`
	Key      string      `json:"key"` // ordering key: identity, else primary value
	Request  SyncRequest `json:"request"`
	Status   JobStatus   `json:"status"`
	Attempts int         `json:"attempts"`
	LastErr  string      `json:"lastError,omitempty"`

	// Result is set once the job is done.
	Result *IngestResult `json:"result,omitempty"`

	AvailableAt time.Time `json:"availableAt"`
	LeaseUntil  time.Time `json:"leaseUntil,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Checkpoint is the change poller's persisted position.
// LastKnownCount is -1 until the first successful push.
type Checkpoint struct {
	LastSuccessfulPush time.Time `json:"lastSuccessfulPush"`
	LastKnownCount     int       `json:"lastKnownCount"`
}

// PushAttempt is one outbound push as recorded in the push log.
type PushAttempt struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	Updates    int       `json:"updates"`
	ValidIDs   int       `json:"validIds"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}
