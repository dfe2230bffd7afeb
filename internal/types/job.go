// Package types holds the request and response bodies of the job API
package types

import "encoding/json"

// CreateJobRequest is the body of a job creation request. Task defaults to
// the first pipeline stage.
type CreateJobRequest struct {
	Task    string          `json:"task,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateJobResponse is returned once the job is stored and its first task
// handed to the transport
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// PublishTaskRequest asks for a task trigger to be published for an existing job
type PublishTaskRequest struct {
	Task string `json:"task"`
}

// PublishTaskResponse echoes the published trigger
type PublishTaskResponse struct {
	JobID string `json:"job_id"`
	Task  string `json:"task"`
}
