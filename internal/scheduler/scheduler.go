package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calpresence/internal/log"
	"calpresence/internal/snapshot"
)

// DefaultSpec runs the job at the snapshot refresh cadence.
var DefaultSpec = "@every " + snapshot.RefreshInterval.String()

// Job is one refresh attempt. The context is cancelled when the scheduler
// stops; a job finishing after that must not publish its result.
type Job func(ctx context.Context)

// Scheduler runs a Job once at Start and then on a cron schedule. Runs never
// overlap: a tick that arrives while the previous run is still going is
// skipped.
type Scheduler struct {
	job  Job
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	runMu sync.Mutex
}

// New parses the cron expression and prepares a scheduler. loc is the zone cron
// expressions are evaluated in; nil means time.Local.
func New(job Job, spec string, loc *time.Location) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is nil")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		job:    job,
		cron:   c,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := c.AddFunc(spec, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: invalid refresh spec %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the job immediately in the background and starts the
// schedule. Calling Start more than once, or after Stop, does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	s.cron.Start()
	appLog.Info("refresh scheduler started")
}

// Stop halts further scheduling and cancels the context handed to running
// jobs. The returned context is done once every running job has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		cancel()
	}()
	appLog.Info("refresh scheduler stopped")
	return ctx
}

// run is the function value the cron entry holds. SkipIfStillRunning only
// covers cron invocations, so the startup run is guarded by runMu as well.
func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	if !s.runMu.TryLock() {
		appLog.Debug("refresh still running; skipping tick")
		return
	}
	defer s.runMu.Unlock()
	s.job(s.ctx)
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
