// Package dispatch runs pipeline tasks delivered by the message transport.
//
// A delivery is decoded, authenticated, claimed on the job record, handed to
// its stage handler and then either completed (and chained to the next
// stage) or recorded as a failure and retried with backoff. Every path ends
// in an Ack; nothing is surfaced to the transport as a failure.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/naka0519/TownReady/internal/auth"
	"github.com/naka0519/TownReady/internal/backoff"
	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/metrics"
	"github.com/naka0519/TownReady/internal/pipeline"
	"github.com/naka0519/TownReady/internal/scheduler"
	"github.com/naka0519/TownReady/internal/stages"
	"github.com/naka0519/TownReady/internal/transport"
)

// JobStore is the subset of the job repository the dispatcher needs
type JobStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	Mutate(ctx context.Context, id string, fn func(*models.Job) error) (*models.Job, error)
}

// Deps are the collaborators a Dispatcher is built from
type Deps struct {
	Store     JobStore
	Guard     *auth.Guard
	Handlers  stages.Set
	Publisher transport.Publisher
	Scheduler scheduler.Scheduler
	Metrics   *metrics.Metrics
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep replaces the wait used to honor delay_ms
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithPolicy replaces the backoff policy built from configuration
func WithPolicy(p *backoff.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// Dispatcher runs one delivery at a time per call; it holds no per-job state
// and is safe for concurrent use.
type Dispatcher struct {
	store    JobStore
	guard    *auth.Guard
	handlers stages.Set
	pub      transport.Publisher
	sched    scheduler.Scheduler
	metrics  *metrics.Metrics
	policy   *backoff.Policy
	lease    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

// New creates a dispatcher
func New(cfg config.RetryConfig, deps Deps, opts ...Option) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("dispatcher needs a job store")
	}
	if deps.Publisher == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("dispatcher needs a publisher and a scheduler")
	}
	if err := deps.Handlers.Validate(); err != nil {
		return nil, err
	}
	if deps.Guard == nil {
		deps.Guard = &auth.Guard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	d := &Dispatcher{
		store:    deps.Store,
		guard:    deps.Guard,
		handlers: deps.Handlers,
		pub:      deps.Publisher,
		sched:    deps.Scheduler,
		metrics:  deps.Metrics,
		policy:   backoff.NewPolicy(cfg.MaxAttempts),
		lease:    cfg.TaskLease,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// HandlePush handles one push delivery: decode, then authenticate, then dispatch
func (d *Dispatcher) HandlePush(ctx context.Context, req envelope.PushRequest, authorization string) Ack {
	del, err := envelope.Decode(req.Message)
	if err != nil {
		return d.finish(del, ackError("", "", ReasonInvalidEnvelope, err))
	}

	if err := d.guard.Check(ctx, authorization); err != nil {
		a := ackError(del.JobID, del.Task.String(), ReasonUnauthorized, nil)
		logger.ForJob(del.JobID, del.Task.String()).Warnf("rejected push: %v", err)
		return d.finish(del, a)
	}

	return d.Dispatch(ctx, del)
}

// HandleMessage handles a message from a transport that authenticates at the
// connection level, so no bearer token is checked
func (d *Dispatcher) HandleMessage(ctx context.Context, msg envelope.Message) Ack {
	del, err := envelope.Decode(msg)
	if err != nil {
		return d.finish(del, ackError("", "", ReasonInvalidEnvelope, err))
	}
	return d.Dispatch(ctx, del)
}

// Reject acknowledges a push body that could not be parsed at all
func (d *Dispatcher) Reject(cause error) Ack {
	err := fmt.Errorf("%w: %v", envelope.ErrValidation, cause)
	return d.finish(envelope.Delivery{}, ackError("", "", ReasonInvalidEnvelope, err))
}

var (
	errAlreadyCompleted = errors.New("task already completed")
	errInProgress       = errors.New("task in progress")
)

// Dispatch runs a decoded delivery through claim, stage handler and bookkeeping
func (d *Dispatcher) Dispatch(ctx context.Context, del envelope.Delivery) Ack {
	if del.Delay > 0 && !del.DelayApplied {
		wait := del.Delay
		if wait > backoff.MaxDelay {
			wait = backoff.MaxDelay
		}
		d.sleep(ctx, wait)
	}

	if !del.Task.IsKnown() {
		return d.finish(del, d.acknowledgeUnknown(ctx, del))
	}

	job, err := d.claim(ctx, del)
	switch {
	case errors.Is(err, errAlreadyCompleted):
		return d.finish(del, ack(del.JobID, del.Task.String(), NoteAlreadyCompleted))
	case errors.Is(err, errInProgress):
		return d.finish(del, ack(del.JobID, del.Task.String(), NoteInProgress))
	case err != nil:
		return d.finish(del, d.storeFailure(ctx, del, err))
	}

	h, _ := d.handlers.For(del.Task)
	start := d.now()
	out, runErr := d.run(ctx, h, stages.Input{
		JobID:   job.ID,
		Payload: []byte(job.Payload),
		Results: job.Results,
	})
	d.metrics.HandlerDuration.WithLabelValues(del.Task.String()).Observe(d.now().Sub(start).Seconds())

	if runErr != nil {
		return d.finish(del, d.fail(ctx, del, runErr))
	}
	return d.finish(del, d.complete(ctx, del, out))
}

// claim checks idempotency and marks the task processing in one conditional
// write. The returned job is the state the claim was written on top of.
func (d *Dispatcher) claim(ctx context.Context, del envelope.Delivery) (*models.Job, error) {
	task := del.Task.String()
	// A redelivery after a store failure may find its own stale lease.
	takeover := del.Attributes[envelope.AttrRedelivery] != ""
	return d.store.Mutate(ctx, del.JobID, func(j *models.Job) error {
		if j.IsCompleted(task) {
			return errAlreadyCompleted
		}
		now := d.now()
		if until, ok := j.Lease(task); ok && now.Before(until) && !takeover {
			return errInProgress
		}
		j.TakeLease(task, now.Add(d.lease))
		j.Status = models.JobStatusProcessing
		j.Task = task
		return nil
	})
}

func (d *Dispatcher) run(ctx context.Context, h stages.Handler, in stages.Input) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage handler panic: %v", r)
		}
	}()
	return h.Run(ctx, in)
}

// acknowledgeUnknown stores the generic result for a task outside the
// pipeline. Such tasks never enter the completion bookkeeping and never chain.
func (d *Dispatcher) acknowledgeUnknown(ctx context.Context, del envelope.Delivery) Ack {
	task := del.Task.String()
	_, err := d.store.Mutate(ctx, del.JobID, func(j *models.Job) error {
		if j.Results == nil {
			j.Results = models.Results{}
		}
		j.Results[task] = stages.UnknownResult(del.Task)
		return nil
	})
	if err != nil {
		return d.storeFailure(ctx, del, err)
	}
	return ack(del.JobID, task, NoteUnknownTask)
}

// finish records the outcome of a delivery. Task names come from the
// message, so anything outside the pipeline shares the unknown label.
func (d *Dispatcher) finish(del envelope.Delivery, a Ack) Ack {
	label := pipeline.Unknown
	if t := pipeline.Parse(a.Task); t.IsKnown() {
		label = t
	}
	d.metrics.Deliveries.WithLabelValues(label.String(), a.outcome()).Inc()

	entry := logger.ForJob(a.JobID, a.Task).WithField("outcome", a.outcome())
	if del.MessageID != "" {
		entry = entry.WithField("message_id", del.MessageID)
	}
	if a.Status == StatusAckError {
		entry.WithField("detail", a.Detail).Warn("delivery acknowledged with error")
		return a
	}
	entry.Info("delivery acknowledged")
	return a
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
