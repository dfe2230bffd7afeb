package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Field names for the job model
const (
	// JobIDField is the primary key column
	JobIDField = "id"
	// JobStatusField is the status column
	JobStatusField = "status"
	// JobVersionField is the optimistic concurrency column
	JobVersionField = "version"
	// JobCreatedAtField is the database field name for the job creation timestamp
	JobCreatedAtField = "created_at"
	// JobUpdatedAtField is the database field name for the job update timestamp
	JobUpdatedAtField = "updated_at"
)

// JobStatus is the advisory status of a job. It never gates processing.
type JobStatus string

// Job status constants
const (
	// JobStatusReceived is the status of a job created without an explicit status
	JobStatusReceived JobStatus = "received"
	// JobStatusQueued indicates a task message is waiting to be processed
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a stage handler is running
	JobStatusProcessing JobStatus = "processing"
	// JobStatusDone indicates the last stage completed
	JobStatusDone JobStatus = "done"
	// JobStatusError indicates retries were exhausted and manual remediation is needed
	JobStatusError JobStatus = "error"
)

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus converts a string to a JobStatus
func ParseJobStatus(str string) (JobStatus, error) {
	switch JobStatus(str) {
	case JobStatusReceived, JobStatusQueued, JobStatusProcessing, JobStatusDone, JobStatusError:
		return JobStatus(str), nil
	default:
		return "", fmt.Errorf("invalid job status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Job is the shared mutable record of one drill generation request
type Job struct {
	ID             string         `json:"job_id" gorm:"primaryKey;type:varchar(64)"`
	Status         JobStatus      `json:"status" gorm:"not null;index"`
	Task           string         `json:"task,omitempty" gorm:"type:varchar(64)"`
	Payload        datatypes.JSON `json:"payload"`
	Results        Results        `json:"results" gorm:"type:jsonb"`
	CompletedTasks TaskList       `json:"completed_tasks" gorm:"type:jsonb"`
	CompletedOrder TaskList       `json:"completed_order" gorm:"type:jsonb"`
	Attempts       Attempts       `json:"attempts" gorm:"type:jsonb"`
	InFlight       Leases         `json:"in_flight,omitempty" gorm:"type:jsonb"`
	Error          string         `json:"error,omitempty" gorm:"type:text"`
	Version        int64          `json:"version" gorm:"not null;default:0"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"index"`
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if _, err := ParseJobStatus(string(j.Status)); err != nil {
		return err
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusReceived
	}
	return j.Validate()
}

// IsCompleted reports whether task has finished successfully at least once
func (j *Job) IsCompleted(task string) bool {
	return j.CompletedTasks.Contains(task)
}

// MarkCompleted records a successful task run: the result is overwritten, the
// task is appended to CompletedOrder only on first completion, and its
// attempt counter and in-flight lease are cleared.
func (j *Job) MarkCompleted(task string, result json.RawMessage) {
	if j.Results == nil {
		j.Results = Results{}
	}
	j.Results[task] = result
	if !j.CompletedOrder.Contains(task) {
		j.CompletedOrder = append(j.CompletedOrder, task)
	}
	if !j.CompletedTasks.Contains(task) {
		j.CompletedTasks = append(j.CompletedTasks, task)
	}
	delete(j.Attempts, task)
	delete(j.InFlight, task)
}

// RecordFailure increments the consecutive failure count for task, releases
// its lease and returns the new count
func (j *Job) RecordFailure(task string, errMsg string) int {
	if j.Attempts == nil {
		j.Attempts = Attempts{}
	}
	j.Attempts[task]++
	delete(j.InFlight, task)
	j.Error = errMsg
	return j.Attempts[task]
}

// Lease returns the in-flight lease expiry for task, if any
func (j *Job) Lease(task string) (time.Time, bool) {
	until, ok := j.InFlight[task]
	return until, ok
}

// TakeLease marks task as in flight until the given time
func (j *Job) TakeLease(task string, until time.Time) {
	if j.InFlight == nil {
		j.InFlight = Leases{}
	}
	j.InFlight[task] = until
}
