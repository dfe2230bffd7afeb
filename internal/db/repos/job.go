package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/naka0519/TownReady/internal/db/models"
)

var (
	// ErrJobNotFound is returned when no job exists for an id
	ErrJobNotFound = errors.New("job not found")
	// ErrVersionConflict is returned when a mutation lost the race too many times
	ErrVersionConflict = errors.New("job version conflict")
	// ErrJobExists is returned when creating a job whose id is taken
	ErrJobExists = errors.New("job already exists")
)

// DefaultMaxConflicts bounds how many times Mutate re-reads after losing a race
const DefaultMaxConflicts = 5

// JobRepository provides access to job-related database operations
type JobRepository struct {
	db           *gorm.DB
	maxConflicts int
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, maxConflicts: DefaultMaxConflicts}
}

// WithMaxConflicts returns a copy of the repository with a different conflict bound
func (r *JobRepository) WithMaxConflicts(n int) *JobRepository {
	if n < 1 {
		n = 1
	}
	return &JobRepository{db: r.db, maxConflicts: n}
}

// Create creates a new job in the database, assigning an id when none is set
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Version = 0
	err := r.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Ping checks that the database answers
func (r *JobRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Get retrieves a job by its id
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(models.JobIDField+" = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Mutate applies fn to the latest copy of the job and writes it back only if
// nobody else wrote in between. On a lost race the job is re-read and fn runs
// again, up to the conflict bound, after which ErrVersionConflict is returned.
//
// If fn returns an error nothing is written and that error is returned
// together with the job as fn left it.
func (r *JobRepository) Mutate(ctx context.Context, id string, fn func(*models.Job) error) (*models.Job, error) {
	for i := 0; i < r.maxConflicts; i++ {
		job, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		prev := job.Version
		if err := fn(job); err != nil {
			return job, err
		}
		job.ID = id
		job.Version = prev + 1

		res := r.db.WithContext(ctx).
			Model(job).
			Where(models.JobVersionField+" = ?", prev).
			Select("*").
			Omit(models.JobIDField, models.JobCreatedAtField).
			Updates(job)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVersionConflict, id)
}

// ListStale returns jobs in one of statuses that have not been written since before
func (r *JobRepository) ListStale(ctx context.Context, statuses []models.JobStatus, before time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobStatusField+" IN ?", statuses).
		Where(models.JobUpdatedAtField+" < ?", before).
		Order(models.JobUpdatedAtField + " ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}
