package job

import (
	"time"

	"maintscraper/internal/core/run"
)

// Run is a range run submitted through the API, as stored in Redis.
type Run struct {
	JobID     string      `json:"job_id"`
	Status    Status      `json:"status"`
	Job       run.Job     `json:"job"`
	Report    *run.Report `json:"report,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the run will not change any more.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// TaskPayload is the asynq payload of a range run.
type TaskPayload struct {
	JobID string  `json:"job_id"`
	Job   run.Job `json:"job"`
}
