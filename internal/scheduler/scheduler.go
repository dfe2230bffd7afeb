// Package scheduler republishes failed tasks after their backoff delay.
//
// Three strategies are available. Inline publishes at once and leaves the
// wait to the receiver. Timer waits in-process. Redis parks the message in a
// sorted set shared by all instances until it is due.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/transport"
)

// Scheduler republishes msg once delay has elapsed
type Scheduler interface {
	Schedule(ctx context.Context, msg transport.Message, delay time.Duration) error
}

// New builds the scheduler selected by mode. The redis client is only used in
// redis mode and may be nil otherwise.
func New(mode string, pub transport.Publisher, rdb *redis.Client) (Scheduler, error) {
	switch mode {
	case config.DelayModeInline:
		return NewInline(pub), nil
	case config.DelayModeTimer:
		return NewTimer(pub), nil
	case config.DelayModeRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis delay mode needs a redis client")
		}
		return NewRedis(rdb, pub), nil
	default:
		return nil, fmt.Errorf("unsupported retry delay mode: %s", mode)
	}
}

func withDelay(msg transport.Message, delay time.Duration) transport.Message {
	return msg.WithAttribute(envelope.AttrDelayMs, strconv.FormatInt(delay.Milliseconds(), 10))
}

func delayApplied(msg transport.Message) transport.Message {
	return msg.WithAttribute(envelope.AttrDelayApplied, "true")
}

// Inline publishes immediately; the receiver honors delay_ms before processing
type Inline struct {
	pub transport.Publisher
}

// NewInline creates an inline scheduler
func NewInline(pub transport.Publisher) *Inline {
	return &Inline{pub: pub}
}

// Schedule implements Scheduler
func (s *Inline) Schedule(ctx context.Context, msg transport.Message, delay time.Duration) error {
	return s.pub.Publish(ctx, withDelay(msg, delay))
}

// PublishTimeout bounds a deferred publish
const PublishTimeout = 10 * time.Second

// Timer holds the message in-process and publishes when the delay elapses.
// Pending retries are lost if the process exits.
type Timer struct {
	pub    transport.Publisher
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// NewTimer creates a timer scheduler
func NewTimer(pub transport.Publisher) *Timer {
	return &Timer{pub: pub, timers: make(map[*time.Timer]struct{})}
}

// Schedule implements Scheduler
func (s *Timer) Schedule(_ context.Context, msg transport.Message, delay time.Duration) error {
	out := delayApplied(withDelay(msg, delay))

	s.mu.Lock()
	defer s.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()
		if err := s.pub.Publish(ctx, out); err != nil {
			logger.ForJob(out.JobID, out.Task.String()).Errorf("failed to publish delayed retry: %v", err)
		}
	})
	s.timers[t] = struct{}{}
	return nil
}

// Pending returns the number of retries still waiting
func (s *Timer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending retry
func (s *Timer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}
