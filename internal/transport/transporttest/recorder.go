// Package transporttest provides a recording publisher for tests
package transporttest

import (
	"context"
	"sync"

	"github.com/naka0519/TownReady/internal/transport"
)

// Recorder is a transport.Publisher that keeps every message it is given
type Recorder struct {
	mu       sync.Mutex
	messages []transport.Message
	// Err, when set, is returned from Publish after the message is recorded
	Err error
}

// Publish implements transport.Publisher
func (r *Recorder) Publish(_ context.Context, msg transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Close implements transport.Publisher
func (r *Recorder) Close() error {
	return nil
}

// Messages returns a copy of the recorded messages
func (r *Recorder) Messages() []transport.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Reset forgets recorded messages
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
