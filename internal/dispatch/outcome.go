package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/db/repos"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/transport"
)

// complete persists a successful run and then triggers the next stage. The
// write always happens before the chain publish.
func (d *Dispatcher) complete(ctx context.Context, del envelope.Delivery, out json.RawMessage) Ack {
	task := del.Task.String()
	if len(out) == 0 {
		out = json.RawMessage(`{}`)
	}
	if !json.Valid(out) {
		return d.fail(ctx, del, fmt.Errorf("stage handler returned invalid JSON"))
	}

	next, hasNext := del.Task.Next()
	_, err := d.store.Mutate(ctx, del.JobID, func(j *models.Job) error {
		j.MarkCompleted(task, out)
		if hasNext {
			j.Status = models.JobStatusQueued
		} else {
			j.Status = models.JobStatusDone
		}
		return nil
	})
	if err != nil {
		return d.storeFailure(ctx, del, err)
	}

	if hasNext {
		d.chain(ctx, transport.Message{JobID: del.JobID, Task: next})
	}
	return ack(del.JobID, task, "")
}

// chain publishes the next stage. Failures are logged and swallowed; a
// missing trigger is recovered by a manual publish or the reconciler.
func (d *Dispatcher) chain(ctx context.Context, msg transport.Message) {
	if err := d.pub.Publish(ctx, msg); err != nil {
		d.metrics.ChainFailures.WithLabelValues(msg.Task.String()).Inc()
		logger.ForJob(msg.JobID, msg.Task.String()).Errorf("failed to publish next stage: %v", err)
		return
	}
	logger.ForJob(msg.JobID, msg.Task.String()).Debug("published next stage")
}

// fail records a handler failure and schedules a retry while attempts remain.
// Once the ceiling is hit the job is left in error for manual remediation.
func (d *Dispatcher) fail(ctx context.Context, del envelope.Delivery, cause error) Ack {
	task := del.Task.String()

	var attempts int
	var retry bool
	_, err := d.store.Mutate(ctx, del.JobID, func(j *models.Job) error {
		attempts = j.RecordFailure(task, cause.Error())
		retry = d.policy.ShouldRetry(attempts)
		if retry {
			j.Status = models.JobStatusQueued
		} else {
			j.Status = models.JobStatusError
		}
		return nil
	})
	if err != nil {
		return d.storeFailure(ctx, del, err)
	}

	entry := logger.ForJob(del.JobID, task).WithField("attempt", attempts)
	a := ackError(del.JobID, task, ReasonHandlerError, cause)
	if !retry {
		d.metrics.RetriesExhaust.WithLabelValues(task).Inc()
		entry.Errorf("task failed, retries exhausted: %v", cause)
		a.Note = NoteRetriesExhausted
		return a
	}

	delay := d.policy.Next(attempts)
	d.metrics.RetriesSched.WithLabelValues(task).Inc()
	entry = entry.WithField("delay_ms", delay.Milliseconds())
	if err := d.sched.Schedule(ctx, transport.Message{JobID: del.JobID, Task: del.Task}, delay); err != nil {
		entry.Errorf("task failed and the retry could not be scheduled: %v", err)
	} else {
		entry.Warnf("task failed, retry scheduled: %v", cause)
	}
	a.Note = NoteRetryScheduled
	return a
}

// storeFailure handles a job record that could not be read or written. A
// missing job is terminal. Anything else is republished with backoff, bounded
// by the redelivery attribute since no bookkeeping could be written.
func (d *Dispatcher) storeFailure(ctx context.Context, del envelope.Delivery, cause error) Ack {
	task := del.Task.String()
	if errors.Is(cause, repos.ErrJobNotFound) {
		return ackError(del.JobID, task, ReasonJobNotFound, cause)
	}

	a := ackError(del.JobID, task, ReasonStoreError, cause)
	n, _ := strconv.Atoi(del.Attributes[envelope.AttrRedelivery])
	n++
	if !d.policy.ShouldRetry(n) {
		a.Note = NoteRetriesExhausted
		return a
	}

	msg := transport.Message{JobID: del.JobID, Task: del.Task}.
		WithAttribute(envelope.AttrRedelivery, strconv.Itoa(n))
	if err := d.sched.Schedule(ctx, msg, d.policy.Next(n)); err != nil {
		logger.ForJob(del.JobID, task).Errorf("failed to schedule redelivery: %v", err)
		return a
	}
	a.Note = NoteRetryScheduled
	return a
}
