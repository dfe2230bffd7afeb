// Package transport defines how {job_id, task} messages leave and enter the worker.
package transport

import (
	"context"

	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/pipeline"
)

// Message is an outbound task trigger
type Message struct {
	JobID      string
	Task       pipeline.Task
	Attributes map[string]string
}

// Publisher sends task triggers to the message transport
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// DeliverFunc receives an inbound message in push form
type DeliverFunc func(ctx context.Context, msg envelope.Message)

// Encode returns the body and attributes to put on the wire. The type
// attribute always names the task.
func Encode(msg Message) ([]byte, map[string]string, error) {
	body, err := envelope.EncodeBody(msg.JobID, msg.Task)
	if err != nil {
		return nil, nil, err
	}

	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[envelope.AttrType] = msg.Task.String()
	return body, attrs, nil
}

// WithAttribute returns a copy of msg with key set to value
func (m Message) WithAttribute(key, value string) Message {
	attrs := make(map[string]string, len(m.Attributes)+1)
	for k, v := range m.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	m.Attributes = attrs
	return m
}
