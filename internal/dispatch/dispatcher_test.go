package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/naka0519/TownReady/internal/auth"
	"github.com/naka0519/TownReady/internal/backoff"
	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/db/repos"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/metrics"
	"github.com/naka0519/TownReady/internal/pipeline"
	"github.com/naka0519/TownReady/internal/scheduler"
	"github.com/naka0519/TownReady/internal/stages"
	"github.com/naka0519/TownReady/internal/transport/transporttest"
)

type DispatcherTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	repo     *repos.JobRepository
	chained  *transporttest.Recorder
	retried  *transporttest.Recorder
	metrics  *metrics.Metrics
	handlers stages.Set
	guard    *auth.Guard
	slept    []time.Duration
	now      time.Time
}

func TestDispatcher(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func (s *DispatcherTestSuite) SetupTest() {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrate(&models.Job{}))

	s.ctx = context.Background()
	s.db = db
	s.repo = repos.NewJobRepository(db)
	s.chained = &transporttest.Recorder{}
	s.retried = &transporttest.Recorder{}
	s.metrics = metrics.New()
	s.handlers = stages.Defaults()
	s.guard = &auth.Guard{}
	s.slept = nil
	s.now = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
}

func (s *DispatcherTestSuite) TearDownTest() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *DispatcherTestSuite) dispatcher() *Dispatcher {
	d, err := New(config.RetryConfig{MaxAttempts: 3, TaskLease: 10 * time.Minute}, Deps{
		Store:     s.repo,
		Guard:     s.guard,
		Handlers:  s.handlers,
		Publisher: s.chained,
		Scheduler: scheduler.NewInline(s.retried),
		Metrics:   s.metrics,
	},
		WithClock(func() time.Time { return s.now }),
		WithSleep(func(_ context.Context, d time.Duration) { s.slept = append(s.slept, d) }),
		WithPolicy(backoff.NewPolicyWithJitter(3, func() time.Duration { return 0 })),
	)
	s.Require().NoError(err)
	return d
}

func (s *DispatcherTestSuite) createJob() *models.Job {
	job := &models.Job{
		Status:  models.JobStatusQueued,
		Task:    "plan",
		Payload: []byte(`{"location":{"address":"Tokyo","lat":35.68,"lng":139.76},"hazard":{"types":["earthquake"]}}`),
	}
	s.Require().NoError(s.repo.Create(s.ctx, job))
	return job
}

func (s *DispatcherTestSuite) getJob(id string) *models.Job {
	job, err := s.repo.Get(s.ctx, id)
	s.Require().NoError(err)
	return job
}

func push(jobID, task string, attrs map[string]string) envelope.PushRequest {
	body, _ := json.Marshal(map[string]string{"job_id": jobID, "task": task})
	return envelope.PushRequest{Message: envelope.NewMessage(body, attrs)}
}

func failing(msg string) stages.Handler {
	return stages.HandlerFunc(func(context.Context, stages.Input) (json.RawMessage, error) {
		return nil, errors.New(msg)
	})
}

func (s *DispatcherTestSuite) TestPlanCompletesAndChains() {
	job := s.createJob()

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(StatusAck, a.Status)
	s.Empty(a.Note)

	got := s.getJob(job.ID)
	s.Equal(models.TaskList{"plan"}, got.CompletedTasks)
	s.Equal(models.TaskList{"plan"}, got.CompletedOrder)
	s.Equal(models.JobStatusQueued, got.Status)
	s.NotEmpty(got.Results["plan"])
	s.Empty(got.InFlight)

	msgs := s.chained.Messages()
	s.Require().Len(msgs, 1)
	s.Equal(job.ID, msgs[0].JobID)
	s.Equal(pipeline.Scenario, msgs[0].Task)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("plan", "completed")))
}

func (s *DispatcherTestSuite) TestRedeliveryIsIdempotent() {
	job := s.createJob()
	d := s.dispatcher()

	s.Equal(StatusAck, d.HandlePush(s.ctx, push(job.ID, "plan", nil), "").Status)
	before := s.getJob(job.ID)
	s.chained.Reset()

	a := d.HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(Ack{Status: StatusAck, Note: NoteAlreadyCompleted, JobID: job.ID, Task: "plan"}, a)

	after := s.getJob(job.ID)
	s.Equal(before.Version, after.Version)
	s.Equal(before.CompletedOrder, after.CompletedOrder)
	s.Equal(before.Attempts, after.Attempts)
	s.JSONEq(string(before.Results["plan"]), string(after.Results["plan"]))
	s.Empty(s.chained.Messages())
}

func (s *DispatcherTestSuite) TestFullPipelineEndsDone() {
	job := s.createJob()
	d := s.dispatcher()

	for _, task := range pipeline.Sequence {
		s.Equal(StatusAck, d.HandlePush(s.ctx, push(job.ID, task.String(), nil), "").Status, task)
	}

	got := s.getJob(job.ID)
	s.Equal(models.JobStatusDone, got.Status)
	s.Equal(models.TaskList{"plan", "scenario", "safety", "content"}, got.CompletedOrder)
	s.Len(s.chained.Messages(), 3, "content must not chain")
}

func (s *DispatcherTestSuite) TestTaskFromTypeAttribute() {
	job := s.createJob()
	body, _ := json.Marshal(map[string]string{"job_id": job.ID})
	req := envelope.PushRequest{Message: envelope.NewMessage(body, map[string]string{envelope.AttrType: "PLAN"})}

	a := s.dispatcher().HandlePush(s.ctx, req, "")
	s.Equal(StatusAck, a.Status)
	s.Equal("plan", a.Task)
	s.True(s.getJob(job.ID).IsCompleted("plan"))
}

func (s *DispatcherTestSuite) TestOutOfOrderDeliveryUsesDefaults() {
	job := s.createJob()
	d := s.dispatcher()

	s.Equal(StatusAck, d.HandlePush(s.ctx, push(job.ID, "safety", nil), "").Status)
	s.Equal(StatusAck, d.HandlePush(s.ctx, push(job.ID, "plan", nil), "").Status)

	got := s.getJob(job.ID)
	s.Equal(models.TaskList{"safety", "plan"}, got.CompletedOrder)
}

func (s *DispatcherTestSuite) TestRetryBound() {
	job := s.createJob()
	s.handlers.Scenario = failing("model timeout")
	d := s.dispatcher()

	a := d.HandlePush(s.ctx, push(job.ID, "scenario", nil), "")
	s.Equal(StatusAckError, a.Status)
	s.Equal(ReasonHandlerError, a.Reason)
	s.Equal(NoteRetryScheduled, a.Note)
	s.Equal("model timeout", a.Detail)

	got := s.getJob(job.ID)
	s.Equal(1, got.Attempts["scenario"])
	s.Equal(models.JobStatusQueued, got.Status)
	s.Equal("model timeout", got.Error)
	s.Empty(got.InFlight)

	s.Equal(NoteRetryScheduled, d.HandlePush(s.ctx, push(job.ID, "scenario", nil), "").Note)
	a = d.HandlePush(s.ctx, push(job.ID, "scenario", nil), "")
	s.Equal(NoteRetriesExhausted, a.Note)

	got = s.getJob(job.ID)
	s.Equal(3, got.Attempts["scenario"])
	s.Equal(models.JobStatusError, got.Status)

	retries := s.retried.Messages()
	s.Require().Len(retries, 2)
	s.Equal("2000", retries[0].Attributes[envelope.AttrDelayMs])
	s.Equal("4000", retries[1].Attributes[envelope.AttrDelayMs])
	s.Equal(pipeline.Scenario, retries[1].Task)

	// A manual re-trigger that fails again is still not republished.
	d.HandlePush(s.ctx, push(job.ID, "scenario", nil), "")
	s.Len(s.retried.Messages(), 2)

	// Success clears the counter.
	s.handlers.Scenario = stages.Defaults().Scenario
	s.Equal(StatusAck, s.dispatcher().HandlePush(s.ctx, push(job.ID, "scenario", nil), "").Status)
	got = s.getJob(job.ID)
	s.NotContains(got.Attempts, "scenario")
	s.True(got.IsCompleted("scenario"))
	s.Len(s.chained.Messages(), 1)
}

func (s *DispatcherTestSuite) TestHandlerPanicIsRetried() {
	job := s.createJob()
	s.handlers.Plan = stages.HandlerFunc(func(context.Context, stages.Input) (json.RawMessage, error) {
		panic("nil map")
	})

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(ReasonHandlerError, a.Reason)
	s.Contains(a.Detail, "nil map")
	s.Len(s.retried.Messages(), 1)
}

func (s *DispatcherTestSuite) TestInvalidHandlerOutputIsAFailure() {
	job := s.createJob()
	s.handlers.Plan = stages.HandlerFunc(func(context.Context, stages.Input) (json.RawMessage, error) {
		return json.RawMessage(`{not json`), nil
	})

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(ReasonHandlerError, a.Reason)
	s.False(s.getJob(job.ID).IsCompleted("plan"))
}

func (s *DispatcherTestSuite) TestChainPublishFailureIsSwallowed() {
	job := s.createJob()
	s.chained.Err = errors.New("topic gone")

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(StatusAck, a.Status)
	s.True(s.getJob(job.ID).IsCompleted("plan"))
	s.Len(s.chained.Messages(), 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ChainFailures.WithLabelValues("scenario")))
}

func (s *DispatcherTestSuite) TestUnknownTask() {
	job := s.createJob()

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "Translate", nil), "")
	s.Equal(Ack{Status: StatusAck, Note: NoteUnknownTask, JobID: job.ID, Task: "translate"}, a)

	got := s.getJob(job.ID)
	s.JSONEq(`{"type":"translate","message":"Unknown task; acknowledged"}`, string(got.Results["translate"]))
	s.Empty(got.CompletedTasks)
	s.Empty(got.CompletedOrder)
	s.Empty(s.chained.Messages())
}

func (s *DispatcherTestSuite) TestInvalidEnvelope() {
	req := envelope.PushRequest{Message: envelope.NewMessage([]byte(`{"task":"plan"}`), nil)}
	a := s.dispatcher().HandlePush(s.ctx, req, "")
	s.Equal(StatusAckError, a.Status)
	s.Equal(ReasonInvalidEnvelope, a.Reason)
	s.Empty(s.retried.Messages())
}

func (s *DispatcherTestSuite) TestJobNotFound() {
	a := s.dispatcher().HandlePush(s.ctx, push("missing", "plan", nil), "")
	s.Equal(ReasonJobNotFound, a.Reason)
	s.Empty(a.Note)
	s.Empty(s.retried.Messages())
	s.Empty(s.chained.Messages())
}

func (s *DispatcherTestSuite) TestAuthGating() {
	job := s.createJob()
	secret := []byte("push-secret")
	s.guard = auth.NewGuardWithVerifier(auth.NewHMACVerifier(secret, "worker"), config.DefaultIssuers, "")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://accounts.google.com",
		"aud": "worker",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(secret)
	s.Require().NoError(err)

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "Bearer "+expired)
	s.Equal(StatusAckError, a.Status)
	s.Equal(ReasonUnauthorized, a.Reason)
	s.Equal(job.Version, s.getJob(job.ID).Version)

	a = s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(ReasonUnauthorized, a.Reason)

	s.guard = &auth.Guard{}
	a = s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "Bearer "+expired)
	s.Equal(StatusAck, a.Status)
}

func (s *DispatcherTestSuite) TestDeliveryLabelsAreBounded() {
	job := s.createJob()
	s.guard = auth.NewGuardWithVerifier(auth.NewHMACVerifier([]byte("push-secret"), "worker"), config.DefaultIssuers, "")
	d := s.dispatcher()

	for i := 0; i < 50; i++ {
		a := d.HandlePush(s.ctx, push(job.ID, fmt.Sprintf("made-up-%d", i), nil), "")
		s.Equal(ReasonUnauthorized, a.Reason)
	}
	s.Equal(1, testutil.CollectAndCount(s.metrics.Deliveries))
	s.Equal(50.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("unknown", ReasonUnauthorized)))

	s.guard = &auth.Guard{}
	d = s.dispatcher()
	for i := 0; i < 50; i++ {
		a := d.HandlePush(s.ctx, push(job.ID, fmt.Sprintf("made-up-%d", i), nil), "")
		s.Equal(NoteUnknownTask, a.Note)
	}
	s.Equal(2, testutil.CollectAndCount(s.metrics.Deliveries))
}

func (s *DispatcherTestSuite) TestConcurrentDeliveryOfSameTask() {
	job := s.createJob()
	var nested Ack
	var d *Dispatcher
	s.handlers.Plan = stages.HandlerFunc(func(ctx context.Context, in stages.Input) (json.RawMessage, error) {
		// The duplicate arrives while this run holds the lease.
		nested = d.HandlePush(ctx, push(in.JobID, "plan", nil), "")
		return json.RawMessage(`{"type":"plan"}`), nil
	})
	d = s.dispatcher()

	a := d.HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(StatusAck, a.Status)
	s.Equal(NoteInProgress, nested.Note)
	s.Len(s.chained.Messages(), 1)
}

func (s *DispatcherTestSuite) TestExpiredLeaseIsTakenOver() {
	job := s.createJob()
	_, err := s.repo.Mutate(s.ctx, job.ID, func(j *models.Job) error {
		j.TakeLease("plan", s.now.Add(-time.Second))
		j.Status = models.JobStatusProcessing
		return nil
	})
	s.Require().NoError(err)

	a := s.dispatcher().HandlePush(s.ctx, push(job.ID, "plan", nil), "")
	s.Equal(StatusAck, a.Status)
	s.Empty(a.Note)
}

func (s *DispatcherTestSuite) TestInlineDelayIsHonoredAndCapped() {
	job := s.createJob()
	d := s.dispatcher()

	d.HandlePush(s.ctx, push(job.ID, "plan", map[string]string{envelope.AttrDelayMs: "45000"}), "")
	d.HandlePush(s.ctx, push(job.ID, "scenario", map[string]string{
		envelope.AttrDelayMs:      "2000",
		envelope.AttrDelayApplied: "true",
	}), "")
	d.HandlePush(s.ctx, push(job.ID, "safety", map[string]string{envelope.AttrDelayMs: "2000"}), "")

	s.Equal([]time.Duration{30 * time.Second, 2 * time.Second}, s.slept)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*models.Job, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Mutate(context.Context, string, func(*models.Job) error) (*models.Job, error) {
	return nil, repos.ErrVersionConflict
}

func (s *DispatcherTestSuite) TestStoreFailureRedeliversBounded() {
	d, err := New(config.RetryConfig{MaxAttempts: 3, TaskLease: time.Minute}, Deps{
		Store:     brokenStore{},
		Handlers:  stages.Defaults(),
		Publisher: s.chained,
		Scheduler: scheduler.NewInline(s.retried),
	}, WithPolicy(backoff.NewPolicyWithJitter(3, func() time.Duration { return 0 })))
	s.Require().NoError(err)

	a := d.HandlePush(s.ctx, push("J1", "plan", nil), "")
	s.Equal(ReasonStoreError, a.Reason)
	s.Equal(NoteRetryScheduled, a.Note)
	retries := s.retried.Messages()
	s.Require().Len(retries, 1)
	s.Equal("1", retries[0].Attributes[envelope.AttrRedelivery])

	a = d.HandlePush(s.ctx, push("J1", "plan", map[string]string{envelope.AttrRedelivery: "2"}), "")
	s.Equal(NoteRetriesExhausted, a.Note)
	s.Len(s.retried.Messages(), 1)
}

func (s *DispatcherTestSuite) TestNewValidatesDeps() {
	_, err := New(config.RetryConfig{MaxAttempts: 3}, Deps{})
	s.Error(err)

	_, err = New(config.RetryConfig{MaxAttempts: 3}, Deps{
		Store:     s.repo,
		Publisher: s.chained,
		Scheduler: scheduler.NewInline(s.retried),
	})
	s.Error(err, "an empty handler set is rejected")
}
