package models

import "time"

// JobStatus is the lifecycle state of a conversion job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces pending -> processing -> {completed|failed}
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type JobOptions struct {
	KeepBackup  bool `json:"keep_backup"`
	FlushCache  bool `json:"flush_cache"`
	ReplaceURLs bool `json:"replace_urls"`
}

// ConversionJob is one queued transcoding request for a media item
type ConversionJob struct {
	ID          string     `json:"id"`
	ItemID      string     `json:"item_id"`
	Status      JobStatus  `json:"status"`
	Options     JobOptions `json:"options"`
	AddedAt     time.Time  `json:"added_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Finished returns j moved to completed, or to failed with err's message
func (j ConversionJob) Finished(err error, at time.Time) ConversionJob {
	if err != nil {
		j.Status = StatusFailed
		j.FailedAt = &at
		j.Error = err.Error()
		return j
	}
	j.Status = StatusCompleted
	j.CompletedAt = &at
	return j
}

// LastSeen is the latest heartbeat of a running job, falling back to its start
func (j ConversionJob) LastSeen() time.Time {
	if j.HeartbeatAt != nil {
		return *j.HeartbeatAt
	}
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return time.Time{}
}

// QueueRecord is the whole queue, persisted as a single value.
// Version increases by one on every committed mutation.
type QueueRecord struct {
	Version uint64          `json:"version"`
	Jobs    []ConversionJob `json:"jobs"`
}

// QueueCounts is the per-state summary returned by status queries
type QueueCounts struct {
	Pending      int  `json:"pending"`
	Processing   int  `json:"processing"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	Total        int  `json:"total"`
	IsProcessing bool `json:"is_processing"`
}

// Counts tallies jobs by status. IsProcessing is left for the caller.
func (r QueueRecord) Counts() QueueCounts {
	var c QueueCounts
	for _, j := range r.Jobs {
		switch j.Status {
		case StatusPending:
			c.Pending++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	c.Total = len(r.Jobs)
	return c
}

// DrainLock is the site-wide single-flight token
type DrainLock struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
