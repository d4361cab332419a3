// Package job tracks range runs submitted in serve mode.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"maintscraper/internal/core/record"
	"maintscraper/internal/core/run"
	"maintscraper/internal/logger"
	rds "maintscraper/internal/platform/redis"
	"maintscraper/internal/platform/tasks"
)

var (
	ErrNotFound   = errors.New("run not found")
	ErrInvalidJob = errors.New("invalid run")
)

// Cache is the slice of Redis the service needs.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
	Publish(ctx context.Context, channel string, val interface{}) error
}

// Enqueuer queues tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int) error
}

// Runner executes a range run.
type Runner interface {
	RunParallel(ctx context.Context, job run.Job) (run.Report, error)
}

type Service struct {
	cache      Cache
	tasks      Enqueuer
	maxRetries int
	log        *logger.Logger
	now        func() time.Time
}

func NewService(cache Cache, tasks Enqueuer, maxRetries int, log *logger.Logger) *Service {
	return &Service{cache: cache, tasks: tasks, maxRetries: maxRetries, log: log.Named("RunJobs"), now: time.Now}
}

// Validate checks a run request before it is queued.
func Validate(j run.Job) error {
	if _, err := record.ParseKind(string(j.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if j.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidJob)
	}
	if j.Stop < j.Start {
		return fmt.Errorf("%w: stop %d is before start %d", ErrInvalidJob, j.Stop, j.Start)
	}
	return nil
}

// Enqueue records a pending run and queues it.
func (s *Service) Enqueue(ctx context.Context, j run.Job) (string, error) {
	kind, err := record.ParseKind(string(j.Kind))
	if err == nil {
		j.Kind = kind
	}
	if err := Validate(j); err != nil {
		return "", err
	}
	id := uuid.New().String()
	now := s.now()
	r := &Run{JobID: id, Status: StatusPending, Job: j, CreatedAt: now}
	if err := s.save(ctx, r); err != nil {
		return "", err
	}
	payload, err := json.Marshal(TaskPayload{JobID: id, Job: j})
	if err == nil {
		err = s.tasks.Enqueue(asynq.NewTask(tasks.TaskTypeRunRange, payload), "default", s.maxRetries)
	}
	if err != nil {
		err = fmt.Errorf("enqueue run %s: %w", id, err)
		// never leave a run pending that no worker will pick up
		r.Status, r.Error = StatusFailed, err.Error()
		if serr := s.save(ctx, r); serr != nil {
			s.log.LogErrorf("mark run %s failed: %v", id, serr)
		}
		return "", err
	}
	s.log.LogInfof("enqueued run %s: %s", id, j)
	return id, nil
}

// Get returns the stored run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	var r Run
	if err := s.cache.CacheGet(ctx, key(id), &r); err != nil {
		if errors.Is(err, rds.ErrMiss) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &r, nil
}

// HandleTask returns the asynq handler that executes queued runs.
func (s *Service) HandleTask(runner Runner) func(ctx context.Context, task *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var p TaskPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		s.log.LogInfof("processing run %s: %s", p.JobID, p.Job)

		r, err := s.Get(ctx, p.JobID)
		if err != nil {
			r = &Run{JobID: p.JobID, Job: p.Job, CreatedAt: s.now()}
		}
		r.Status = StatusProcessing
		if err := s.save(ctx, r); err != nil {
			return err
		}

		rep, runErr := runner.RunParallel(ctx, p.Job)
		r.Report = &rep
		r.Status = StatusCompleted
		if runErr != nil {
			r.Status = StatusFailed
			r.Error = runErr.Error()
			s.log.LogErrorf("run %s failed: %v", p.JobID, runErr)
		} else {
			s.log.LogSuccessf("run %s completed: %s", p.JobID, rep.Totals)
		}
		// the outcome is stored even when the task context is already gone
		if err := s.save(context.WithoutCancel(ctx), r); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, runErr)
		}
		return nil
	}
}

func (s *Service) save(ctx context.Context, r *Run) error {
	r.UpdatedAt = s.now()
	if err := s.cache.CacheSet(ctx, key(r.JobID), r, ttl(r.Status)); err != nil {
		return fmt.Errorf("store run %s: %w", r.JobID, err)
	}
	if err := s.cache.Publish(ctx, key(r.JobID), map[string]string{"job_id": r.JobID, "status": string(r.Status)}); err != nil {
		s.log.LogWarnf("publish run %s update: %v", r.JobID, err)
	}
	return nil
}

func key(id string) string { return "run:" + id }

func ttl(s Status) time.Duration {
	if s.Terminal() {
		return time.Hour
	}
	// in-flight runs can last hours
	return 24 * time.Hour
}
