// Package reconcile re-publishes triggers for jobs that stopped moving, such
// as after a swallowed chain publish or a worker crash mid-task.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/pipeline"
	"github.com/naka0519/TownReady/internal/transport"
)

const (
	batchSize   = 100
	parallelism = 8
)

// Store lists jobs that have not been written recently
type Store interface {
	ListStale(ctx context.Context, statuses []models.JobStatus, before time.Time, limit int) ([]models.Job, error)
}

// Reconciler finds stale jobs and publishes the task each should run next
type Reconciler struct {
	store      Store
	pub        transport.Publisher
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a reconciler
func New(store Store, pub transport.Publisher, staleAfter time.Duration) *Reconciler {
	return &Reconciler{store: store, pub: pub, staleAfter: staleAfter, now: time.Now}
}

// NextTask returns the task a stale job should be nudged with: its recorded
// task if unfinished, else the first later stage not yet completed. Stages
// can complete out of order, so the direct successor may already be done.
// Jobs whose recorded task is outside the pipeline restart from the first
// incomplete stage.
func NextTask(job *models.Job) (pipeline.Task, bool) {
	task := pipeline.Parse(job.Task)
	if !task.IsKnown() {
		return firstIncomplete(job, pipeline.Sequence)
	}
	if !job.IsCompleted(task.String()) {
		return task, true
	}
	return firstIncomplete(job, pipeline.Sequence[task.Index()+1:])
}

func firstIncomplete(job *models.Job, tasks []pipeline.Task) (pipeline.Task, bool) {
	for _, t := range tasks {
		if !job.IsCompleted(t.String()) {
			return t, true
		}
	}
	return "", false
}

// RunOnce publishes one trigger per stale job and returns how many were sent
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.store.ListStale(ctx,
		[]models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing},
		r.now().Add(-r.staleAfter), batchSize)
	if err != nil {
		return 0, err
	}

	sem := semaphore.NewWeighted(parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0

	for i := range jobs {
		job := &jobs[i]
		task, ok := NextTask(job)
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			entry := logger.ForJob(job.ID, task.String())
			if err := r.pub.Publish(ctx, transport.Message{JobID: job.ID, Task: task}); err != nil {
				entry.Warnf("failed to re-publish stale job: %v", err)
				return
			}
			entry.WithField("status", job.Status).Info("re-published stale job")
			mu.Lock()
			sent++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return sent, ctx.Err()
}

// Start runs RunOnce on the cron schedule until ctx is done
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Warnf("reconcile run failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	c.Start()
	logger.Infof("reconciling jobs stale for %s on %q", r.staleAfter, schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
