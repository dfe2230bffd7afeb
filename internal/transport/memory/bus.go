// Package memory provides an in-process message bus for local runs and tests
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/transport"
)

// ChannelSize is the buffer size for the bus channel
const ChannelSize = 100

var (
	// ErrClosed is returned when publishing to a closed bus
	ErrClosed = errors.New("memory bus closed")
	// ErrFull is returned when the buffer has no room
	ErrFull = errors.New("memory bus full")
)

// Bus is an in-process transport. Every message is delivered on its own
// goroutine so that a sleeping delivery does not hold up the others.
type Bus struct {
	ch     chan envelope.Message
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus with a buffer of size messages
func NewBus(size int) *Bus {
	if size <= 0 {
		size = ChannelSize
	}
	return &Bus{ch: make(chan envelope.Message, size)}
}

// Publish implements transport.Publisher
func (b *Bus) Publish(_ context.Context, msg transport.Message) error {
	body, attrs, err := transport.Encode(msg)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- envelope.NewMessage(body, attrs):
		logger.Debugf("published %s for job %s", msg.Task, msg.JobID)
		return nil
	default:
		return ErrFull
	}
}

// Start runs the delivery loop until ctx is done
func (b *Bus) Start(ctx context.Context, deliver transport.DeliverFunc) {
	logger.Info("started in-memory bus")
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping in-memory bus")
			b.wg.Wait()
			return
		case msg := <-b.ch:
			b.wg.Add(1)
			go func(m envelope.Message) {
				defer b.wg.Done()
				deliver(ctx, m)
			}(msg)
		}
	}
}

// Close stops accepting messages
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
