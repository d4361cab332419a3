package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"maintscraper/internal/core/partition"
	"maintscraper/internal/core/record"
	"maintscraper/internal/logger"
)

// ErrAllWorkersFailed is returned when no worker of a run got to report.
var ErrAllWorkersFailed = errors.New("all workers failed")

// Job is one range run.
type Job struct {
	Kind     record.Kind `json:"kind"`
	Start    int         `json:"start"`
	Stop     int         `json:"stop"`
	Workers  int         `json:"workers"`
	Headless bool        `json:"headless"`
}

func (j Job) String() string {
	return fmt.Sprintf("%s [%d, %d) on %d workers", j.Kind, j.Start, j.Stop, j.Workers)
}

// WorkerFailure is a worker that ended without completing its share.
type WorkerFailure struct {
	Worker int    `json:"worker"`
	Error  string `json:"error"`
}

// Report is the aggregate outcome of a run.
type Report struct {
	Job           Job             `json:"job"`
	Workers       []Summary       `json:"workers"`
	Totals        Summary         `json:"totals"`
	FailedWorkers []WorkerFailure `json:"failed_workers,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
}

// Orchestrator owns the primary environment (worker 0's session, used for
// the interactive login) and fans runs out to workers.
type Orchestrator struct {
	settings Settings
	open     EnvFactory
	runtime  Runtime
	log      *logger.Logger

	mu      sync.Mutex
	primary *Env
	// headless mode the primary browser was launched in
	primaryHeadless bool
}

// NewOrchestrator opens the primary environment. This is where the operator
// logs in and confirms the second factor; the password entered here is
// handed to worker processes in their bundles.
func NewOrchestrator(ctx context.Context, settings Settings, open EnvFactory, runtime Runtime, log *logger.Logger) (*Orchestrator, error) {
	o := &Orchestrator{settings: settings, open: open, runtime: runtime, log: log.Named("Orchestrator")}
	if err := o.openPrimary(ctx, settings.Headless); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) openPrimary(ctx context.Context, headless bool) error {
	settings := o.settings
	settings.Headless = headless
	env, err := o.open(ctx, settings, 0)
	if err != nil {
		return fmt.Errorf("open primary session: %w", err)
	}
	o.primary = env
	o.primaryHeadless = headless
	if env.Session != nil {
		o.settings.Account = env.Session.Account()
	}
	return nil
}

func (o *Orchestrator) closePrimary() {
	if o.primary == nil {
		return
	}
	if err := o.primary.Close(); err != nil {
		o.log.LogWarnf("close primary session: %v", err)
	}
	o.primary = nil
}

// RunParallel scrapes and stores job's range. Worker failures are reported
// in the Report; the error is reserved for runs that could not happen.
func (o *Orchestrator) RunParallel(ctx context.Context, job Job) (Report, error) {
	a, err := partition.Range(job.Start, job.Stop, job.Workers)
	if err != nil {
		return Report{Job: job}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	rep := Report{Job: job, StartedAt: time.Now()}
	o.log.LogInfof("starting %s", job)

	if job.Workers == 1 {
		err = o.runSequential(ctx, job, a, &rep)
	} else {
		err = o.runWorkers(ctx, job, a, &rep)
	}
	rep.Duration = time.Since(rep.StartedAt)
	if err != nil {
		return rep, err
	}

	for _, s := range rep.Workers {
		rep.Totals.Add(s)
	}
	rep.Totals.Worker = -1
	o.log.LogSuccessf("range %d to %d complete: %s (%s)", job.Start, job.Stop, rep.Totals, rep.Duration.Round(time.Second))
	for _, f := range rep.FailedWorkers {
		o.log.LogErrorf("worker %d did not complete: %s", f.Worker, f.Error)
	}
	if len(rep.FailedWorkers) == job.Workers {
		return rep, ErrAllWorkersFailed
	}
	return rep, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, job Job, a partition.Assignment, rep *Report) error {
	if o.primary != nil && o.primaryHeadless != job.Headless {
		o.log.LogInfof("relaunching primary session with headless=%t", job.Headless)
		o.closePrimary()
	}
	if o.primary == nil {
		if err := o.openPrimary(ctx, job.Headless); err != nil {
			return err
		}
	}
	w := NewWorker(0, o.primary.Extractor, o.primary.Store, o.log)
	rep.Workers = []Summary{w.Process(ctx, job.Kind, a.Keys(0, job.Kind, o.settings.OrderPrefix))}
	return nil
}

// runWorkers hands the base profile over to the workers. Clones are started
// first and must report ready, which means their profile copy is complete,
// before worker 0 is started on the base profile itself.
func (o *Orchestrator) runWorkers(ctx context.Context, job Job, a partition.Assignment, rep *Report) error {
	settings := o.settings
	settings.Headless = job.Headless

	o.closePrimary()
	defer o.reopenPrimary(ctx)

	var (
		mu       sync.Mutex
		handles  []Handle
		failures []WorkerFailure
	)
	fail := func(worker int, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, WorkerFailure{Worker: worker, Error: err.Error()})
	}
	bundle := func(i int) Bundle {
		return Bundle{
			Settings: settings,
			Kind:     job.Kind,
			Keys:     a.Keys(i, job.Kind, settings.OrderPrefix),
			Worker:   i,
			Workers:  job.Workers,
		}
	}

	var clones []Handle
	for i := 1; i < job.Workers; i++ {
		h, err := o.runtime.Start(ctx, bundle(i))
		if err != nil {
			fail(i, err)
			continue
		}
		clones = append(clones, h)
	}
	for _, h := range clones {
		if err := h.Ready(ctx); err != nil {
			o.log.LogWarnf("worker %d not ready: %v", h.Worker(), err)
		}
		handles = append(handles, h)
	}

	if h, err := o.runtime.Start(ctx, bundle(0)); err != nil {
		fail(0, err)
	} else {
		handles = append(handles, h)
	}

	summaries := make([]Summary, job.Workers)
	for i := range summaries {
		summaries[i].Worker = i
	}
	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			sum, err := h.Wait()
			summaries[h.Worker()] = sum
			if err != nil {
				fail(h.Worker(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(failures, func(i, j int) bool { return failures[i].Worker < failures[j].Worker })

	rep.Workers = summaries
	rep.FailedWorkers = failures
	return nil
}

func (o *Orchestrator) reopenPrimary(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := o.openPrimary(ctx, o.settings.Headless); err != nil {
		o.log.LogWarnf("primary session not reopened, will retry on next run: %v", err)
	}
}

// Close releases the primary environment.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.primary == nil {
		return nil
	}
	err := o.primary.Close()
	o.primary = nil
	return err
}
