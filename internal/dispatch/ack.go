package dispatch

// Ack statuses. The push route always answers 200 with one of these.
const (
	StatusAck      = "ack"
	StatusAckError = "ack_error"
)

// Ack notes
const (
	NoteAlreadyCompleted = "already_completed_task"
	NoteInProgress       = "task_in_progress"
	NoteUnknownTask      = "unknown_task"
	NoteRetryScheduled   = "retry_scheduled"
	NoteRetriesExhausted = "retries_exhausted"
)

// Ack error reasons
const (
	ReasonUnauthorized    = "unauthorized"
	ReasonInvalidEnvelope = "invalid_envelope"
	ReasonJobNotFound     = "job_not_found"
	ReasonHandlerError    = "handler_error"
	ReasonStoreError      = "store_error"
)

// Ack is the response body for a delivery
type Ack struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Task   string `json:"task,omitempty"`
}

func ack(jobID, task, note string) Ack {
	return Ack{Status: StatusAck, Note: note, JobID: jobID, Task: task}
}

func ackError(jobID, task, reason string, err error) Ack {
	a := Ack{Status: StatusAckError, Reason: reason, JobID: jobID, Task: task}
	if err != nil {
		a.Detail = err.Error()
	}
	return a
}

// outcome is the metrics label for an ack
func (a Ack) outcome() string {
	switch {
	case a.Status == StatusAck && a.Note == "":
		return "completed"
	case a.Status == StatusAck:
		return a.Note
	default:
		return a.Reason
	}
}
