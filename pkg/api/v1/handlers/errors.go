// Package handlers provides HTTP request handling
package handlers

// Common error messages
const (
	ErrMsgInvalidReqBody = "Invalid request body"
)

// Job error messages
const (
	ErrMsgJobIDRequired     = "Job id is required"
	ErrMsgJobNotFound       = "Job not found"
	ErrMsgJobCreateFailed   = "Failed to create job"
	ErrMsgJobGetFailed      = "Failed to get job"
	ErrMsgTaskPublishFailed = "Failed to publish task"
)
