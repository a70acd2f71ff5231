// Package scheduler runs the engine's periodic jobs.
//
// A job runs either on a fixed interval or once a day at a wall-clock time.
// Runs of the same job never overlap: a tick that fires while the previous
// run is still executing is skipped, not queued. A run that returns an error
// or panics is logged and the next tick proceeds as normal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Func is the work a job performs on each run.
type Func func(ctx context.Context) error

// Job describes one periodic task.
//
// Interval jobs set Interval. Daily jobs leave Interval zero and set Hour
// and Minute in the scheduler's location.
type Job struct {
	// Name identifies the job in logs and in [Scheduler.Skipped].
	Name string

	// Interval is the time between runs of an interval job.
	Interval time.Duration

	// Hour and Minute give the daily run time.
	Hour   int
	Minute int

	// RunOnStart makes an interval job run once as soon as the scheduler
	// starts, before the first tick.
	RunOnStart bool

	Run Func
}

func (j Job) validate() error {
	switch {
	case j.Name == "":
		return errors.New("job name is required")
	case j.Run == nil:
		return fmt.Errorf("job %q: run func is required", j.Name)
	case j.Interval < 0:
		return fmt.Errorf("job %q: interval must be positive", j.Name)
	case j.Interval == 0 && (j.Hour < 0 || j.Hour > 23 || j.Minute < 0 || j.Minute > 59):
		return fmt.Errorf("job %q: invalid daily time %02d:%02d", j.Name, j.Hour, j.Minute)
	}
	return nil
}

type job struct {
	Job
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Scheduler owns the timers for a fixed set of jobs.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use. Jobs must
// be added before Start.
type Scheduler struct {
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	jobs   []*job
	byName map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	runs   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a scheduler. Daily jobs fire in loc; nil means time.Local.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		location: loc,
		now:      time.Now,
		byName:   make(map[string]*job),
	}
}

// Add registers a job. It fails for invalid or duplicate jobs, and once the
// scheduler has started.
func (s *Scheduler) Add(j Job) error {
	if err := j.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return fmt.Errorf("job %q: scheduler already started", j.Name)
	}
	if _, exists := s.byName[j.Name]; exists {
		return fmt.Errorf("job %q: already registered", j.Name)
	}
	entry := &job{Job: j}
	s.jobs = append(s.jobs, entry)
	s.byName[j.Name] = entry
	return nil
}

// Start launches one timer goroutine per job and returns immediately.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.ctx
	jobs := s.jobs
	s.loops.Add(len(jobs))
	s.mu.Unlock()

	for _, j := range jobs {
		if j.Interval > 0 {
			go s.runInterval(loopCtx, j)
		} else {
			go s.runDaily(loopCtx, j)
		}
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
}

// Stop halts all timers and waits for in-flight runs to finish. Runs are
// not cancelled.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.started && !s.stopped
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	// loops dispatch runs, so they must be gone before runs can be awaited
	s.loops.Wait()
	s.runs.Wait()

	if wasRunning {
		s.logger.Info("scheduler stopped")
	}
}

// Skipped returns how many ticks of the named job were skipped because the
// previous run was still executing.
func (s *Scheduler) Skipped(name string) int64 {
	s.mu.Lock()
	j, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return j.skipped.Load()
}

// Runs returns how many runs of the named job have started.
func (s *Scheduler) Runs(name string) int64 {
	s.mu.Lock()
	j, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return j.runs.Load()
}

func (s *Scheduler) runInterval(ctx context.Context, j *job) {
	defer s.loops.Done()

	if j.RunOnStart {
		s.dispatch(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, j)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, j *job) {
	defer s.loops.Done()

	for {
		now := s.now().In(s.location)
		next := nextDaily(now, j.Hour, j.Minute)
		s.logger.Debug("daily job armed", "job", j.Name, "next_run", next)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatch(ctx, j)
		}
	}
}

// dispatch starts a run unless the previous one is still executing.
func (s *Scheduler) dispatch(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.logger.Warn("job still running, skipping tick", "job", j.Name, "skipped", j.skipped.Load())
		return
	}
	j.runs.Add(1)

	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer j.running.Store(false)
		s.safeRun(runCtx, j)
	}()
}

// safeRun calls the job with panic recovery. A panic is logged with its
// stack under a correlation ID.
func (s *Scheduler) safeRun(ctx context.Context, j *job) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			s.logger.Error("job panic",
				"job", j.Name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)
		}
	}()

	if err := j.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", j.Name, "duration", s.now().Sub(start), "error", err)
		return
	}
	s.logger.Debug("job finished", "job", j.Name, "duration", s.now().Sub(start))
}

// nextDaily returns the first hour:minute strictly after now, in now's
// location.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}
