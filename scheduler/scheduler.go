package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/util"
	"go.uber.org/zap"
)

type Config struct {
	PoolSize     int
	TickInterval time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c *Config) withDefaults() Config {
	conf := *c
	if conf.PoolSize == 0 {
		conf.PoolSize = 8
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = time.Second
	}
	if conf.BaseBackoff == 0 {
		conf.BaseBackoff = 10 * time.Second
	}
	if conf.MaxBackoff == 0 {
		conf.MaxBackoff = 15 * time.Minute
	}
	return conf
}

type workflowState struct {
	wf       *flow.Workflow
	schedule cron.Schedule // nil for interval and trigger-only rules

	// inFlight enforces at most one run per workflow: scheduled ticks
	// TryLock and skip, webhook triggers block until the running run seals.
	inFlight sync.Mutex

	// guarded by Scheduler.mu; zero nextFire means not due (in flight on an
	// interval rule, or trigger-only)
	nextFire time.Time
	retries  int
}

// Scheduler owns the registered workflow set, fires due workflows on a
// bounded worker pool and funnels webhook triggers through the same
// per-workflow exclusivity.
type Scheduler struct {
	conf   Config
	runner *flow.Runner
	pool   *util.Pool
	tick   *util.TickWorker

	mu      sync.Mutex
	states  map[string]*workflowState
	started bool
	stopped bool

	runWg  sync.WaitGroup
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(conf Config, runner *flow.Runner) *Scheduler {
	conf = conf.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		conf:   conf,
		runner: runner,
		states: make(map[string]*workflowState),
		ctx:    ctx,
		cancel: cancel,
	}
	s.pool = util.NewPool("scheduler", conf.PoolSize, &s.wg)
	s.tick = util.NewTickWorker("scheduler-tick", conf.TickInterval, s.dispatchDue, &s.wg)
	return s
}

// Register adds a workflow before Start. The workflow set is immutable once
// the scheduler is running.
func (s *Scheduler) Register(wf *flow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("can not register workflow %s after scheduler start", wf.Name)
	}
	if _, ok := s.states[wf.Name]; ok {
		return fmt.Errorf("workflow %s already registered", wf.Name)
	}
	st := &workflowState{wf: wf}
	if wf.Recurrence.Cron != "" {
		schedule, err := cron.ParseStandard(wf.Recurrence.Cron)
		if err != nil {
			return fmt.Errorf("workflow %s has invalid cron expression %q: %w", wf.Name, wf.Recurrence.Cron, err)
		}
		st.schedule = schedule
	}
	s.states[wf.Name] = st
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	now := time.Now()
	for _, st := range s.states {
		st.nextFire = s.initialFire(st, now)
	}
	s.mu.Unlock()
	s.pool.Start()
	s.tick.Start()
	logger.Info("scheduler started", zap.Int("workflows", len(s.states)))
}

func (s *Scheduler) initialFire(st *workflowState, now time.Time) time.Time {
	if st.schedule != nil {
		return st.schedule.Next(now)
	}
	if st.wf.Recurrence.Interval > 0 {
		return now.Add(st.wf.Recurrence.Interval)
	}
	return time.Time{}
}

// dispatchDue runs once per tick: it fires every due workflow at most once
// concurrently, never queueing skipped ticks.
func (s *Scheduler) dispatchDue() {
	now := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	var due []*workflowState
	for _, st := range s.states {
		if !st.nextFire.IsZero() && !st.nextFire.After(now) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.fire(st, now)
	}
}

func (s *Scheduler) fire(st *workflowState, now time.Time) {
	if !st.inFlight.TryLock() {
		// overlap prevention: the tick is skipped, not queued; the next
		// tick recovers anything missed via the watermark
		logger.Info("skipping tick, previous run still in flight", zap.String("workflow", st.wf.Name))
		s.mu.Lock()
		st.nextFire = s.initialFire(st, now)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if st.schedule != nil {
		st.nextFire = st.schedule.Next(now)
	} else {
		// interval rules fire from completion, not wall clock
		st.nextFire = time.Time{}
	}
	s.mu.Unlock()

	s.runWg.Add(1)
	submitted := s.pool.TrySubmit(func() {
		defer s.runWg.Done()
		defer st.inFlight.Unlock()
		run := s.runner.RunScheduled(s.ctx, st.wf)
		s.onComplete(st, run)
	})
	if !submitted {
		// pool saturated; leave the workflow due for the next tick
		s.runWg.Done()
		st.inFlight.Unlock()
		s.mu.Lock()
		st.nextFire = now
		s.mu.Unlock()
		logger.Warn("worker pool saturated, deferring workflow", zap.String("workflow", st.wf.Name))
	}
}

// Trigger dispatches a webhook-derived item through the same execution path
// and per-workflow exclusivity as a scheduled tick. Implements
// flow.Dispatcher.
func (s *Scheduler) Trigger(workflowName string, item model.Item) error {
	s.mu.Lock()
	st, ok := s.states[workflowName]
	stopped := s.stopped
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no workflow registered with name %s", workflowName)
	}
	if stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	s.runWg.Add(1)
	submitted := s.pool.Submit(func() {
		defer s.runWg.Done()
		st.inFlight.Lock()
		defer st.inFlight.Unlock()
		run := s.runner.RunTriggered(s.ctx, st.wf, item)
		s.onComplete(st, run)
	})
	if !submitted {
		s.runWg.Done()
		return fmt.Errorf("scheduler is stopped")
	}
	return nil
}

// onComplete feeds the run outcome back into next-fire computation: error
// outcomes back off exponentially with jitter, anything else resets the
// workflow to its nominal recurrence.
func (s *Scheduler) onComplete(st *workflowState, run model.Run) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Outcome == model.RUN_ERROR {
		st.retries++
		delay := backoff(s.conf.BaseBackoff, s.conf.MaxBackoff, st.retries)
		if !st.wf.Recurrence.IsZero() {
			st.nextFire = now.Add(delay)
		}
		logger.Warn("workflow backing off after failed run",
			zap.String("workflow", st.wf.Name),
			zap.Int("retries", st.retries),
			zap.Duration("delay", delay))
		return
	}

	st.retries = 0
	if st.schedule != nil {
		st.nextFire = st.schedule.Next(now)
	} else if st.wf.Recurrence.Interval > 0 {
		st.nextFire = now.Add(st.wf.Recurrence.Interval)
	} else {
		st.nextFire = time.Time{}
	}
}

// Stop ceases dispatching, waits up to grace for in-flight runs to seal and
// then cancels them. Cancelled runs abort at the next item boundary without
// having advanced the watermark for the interrupted item.
func (s *Scheduler) Stop(grace time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.tick.Stop()

	done := make(chan struct{})
	go func() {
		s.runWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("grace period expired, canceling in-flight runs", zap.Duration("grace", grace))
		s.cancel()
		<-done
	}

	s.pool.Stop()
	s.cancel()
	s.wg.Wait()
	logger.Info("scheduler stopped")
	return nil
}
