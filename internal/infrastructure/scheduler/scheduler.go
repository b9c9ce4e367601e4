// Package scheduler runs batches of independent jobs on a bounded worker pool
// with a per-job timeout and retries for transient failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Job is one unit of work, usually one source file
type Job struct {
	ID          uuid.UUID
	Key         string
	Status      JobStatus
	Err         error
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

// NewJob creates a new pending job
func NewJob(key string, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Key:        key,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.Err = nil
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Err = err
}

// Cancel marks a job that never ran because the batch was cancelled
func (j *Job) Cancel(err error) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.Err = err
}

// ShouldRetry returns true if the job has retries left
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// Duration returns how long the job ran, retries included
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// JobExecutor is the interface for executing jobs
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Config holds pool configuration
type Config struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	// Retryable decides whether a failed attempt is retried. Nil retries
	// everything not marked Permanent.
	Retryable func(error) bool
}

// DefaultConfig returns default pool configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 4,
		JobTimeout:        2 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("%w: max concurrent jobs must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidConfig)
	}
	if c.JobTimeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Pool runs batches of jobs
type Pool struct {
	config   Config
	executor JobExecutor
	logger   *zap.Logger
}

// NewPool creates a new pool
func NewPool(config Config, executor JobExecutor, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, ErrNoExecutor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		config:   config,
		executor: executor,
		logger:   logger,
	}, nil
}

// Run executes every job and blocks until all of them have finished. Jobs
// still queued when ctx is cancelled are marked cancelled. The returned error
// is ctx.Err() when the batch was cut short; job failures are reported on
// the jobs themselves.
func (p *Pool) Run(ctx context.Context, jobs []*Job) error {
	queue := make(chan *Job, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	workers := p.config.MaxConcurrentJobs
	if workers > len(jobs) {
		workers = len(jobs)
	}

	p.logger.Debug("Batch started",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", workers),
		zap.Duration("job_timeout", p.config.JobTimeout),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, queue, &wg)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		p.logger.Warn("Batch cancelled", zap.Error(err))
		return err
	}
	p.logger.Debug("Batch finished", zap.Int("jobs", len(jobs)))
	return nil
}

// worker processes jobs from the queue
func (p *Pool) worker(ctx context.Context, workerID int, queue <-chan *Job, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range queue {
		if err := ctx.Err(); err != nil {
			job.Cancel(err)
			continue
		}
		p.processJob(ctx, job, workerID)
	}
}

// processJob executes a single job, retrying transient failures
func (p *Pool) processJob(ctx context.Context, job *Job, workerID int) {
	for {
		job.Start()
		p.logger.Debug("Processing job",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("key", job.Key),
			zap.Int("attempt", job.RetryCount+1),
		)

		err := p.attempt(ctx, job)
		if err == nil {
			job.Complete()
			p.logger.Debug("Job completed",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID.String()),
				zap.String("key", job.Key),
			)
			return
		}

		job.Fail(err)
		if !job.ShouldRetry() || !p.retryable(err) || ctx.Err() != nil {
			p.logger.Warn("Job failed",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID.String()),
				zap.String("key", job.Key),
				zap.Int("attempts", job.RetryCount+1),
				zap.Error(err),
			)
			return
		}

		job.RetryCount++
		p.logger.Info("Job scheduled for retry",
			zap.String("job_id", job.ID.String()),
			zap.String("key", job.Key),
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		if !sleep(ctx, p.config.RetryDelay) {
			return
		}
	}
}

// attempt runs the executor once under the job timeout
func (p *Pool) attempt(ctx context.Context, job *Job) error {
	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}
	return p.executor.Execute(jobCtx, job)
}

func (p *Pool) retryable(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.config.Retryable != nil {
		return p.config.Retryable(err)
	}
	return true
}

// sleep waits for d or until ctx is done; it reports whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
