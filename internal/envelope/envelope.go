// Package envelope decodes and encodes the push transport wrapper that carries
// a job id and task name.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/naka0519/TownReady/internal/pipeline"
)

// ErrValidation wraps every decode failure. Such deliveries are never retried.
var ErrValidation = errors.New("invalid envelope")

// Message attribute keys
const (
	AttrType         = "type"
	AttrDelayMs      = "delay_ms"
	AttrDelayApplied = "delay_applied"
	// AttrRedelivery counts republishes caused by store failures
	AttrRedelivery = "redelivery"
)

// PushRequest is the body of a push delivery
type PushRequest struct {
	Message      Message `json:"message"`
	Subscription string  `json:"subscription,omitempty"`
}

// Message is the transport message inside a push delivery
type Message struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// Body is the decoded JSON carried in Message.Data
type Body struct {
	JobID string `json:"job_id"`
	Task  string `json:"task,omitempty"`
}

// Delivery is a validated message ready for dispatch
type Delivery struct {
	JobID        string
	Task         pipeline.Task
	Attributes   map[string]string
	Delay        time.Duration
	DelayApplied bool
	MessageID    string
}

// Decode validates msg and extracts the job id and task name. The task comes
// from the body, then the type attribute, and defaults to unknown. A malformed
// delay_ms attribute is ignored.
func Decode(msg Message) (Delivery, error) {
	if msg.Data == "" {
		return Delivery{}, fmt.Errorf("%w: missing data", ErrValidation)
	}

	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: data is not base64: %v", ErrValidation, err)
	}

	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return Delivery{}, fmt.Errorf("%w: data is not a job object: %v", ErrValidation, err)
	}
	if strings.TrimSpace(body.JobID) == "" {
		return Delivery{}, fmt.Errorf("%w: missing job_id", ErrValidation)
	}

	name := body.Task
	if name == "" {
		name = msg.Attributes[AttrType]
	}

	d := Delivery{
		JobID:      body.JobID,
		Task:       pipeline.Parse(name),
		Attributes: msg.Attributes,
		MessageID:  msg.MessageID,
	}
	if ms, err := strconv.ParseInt(msg.Attributes[AttrDelayMs], 10, 64); err == nil && ms > 0 {
		d.Delay = time.Duration(ms) * time.Millisecond
	}
	d.DelayApplied, _ = strconv.ParseBool(msg.Attributes[AttrDelayApplied])
	return d, nil
}

// EncodeBody returns the JSON data for a {job_id, task} message
func EncodeBody(jobID string, task pipeline.Task) ([]byte, error) {
	b, err := json.Marshal(Body{JobID: jobID, Task: task.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message body: %w", err)
	}
	return b, nil
}

// NewMessage wraps raw data and attributes the way a push subscription delivers them
func NewMessage(data []byte, attrs map[string]string) Message {
	return Message{
		Data:       base64.StdEncoding.EncodeToString(data),
		Attributes: attrs,
	}
}
