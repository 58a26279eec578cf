package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/metrics"
	"homeassist/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// State is the lifecycle state of the scheduler loop
type State string

const (
	StateStopped  State = "STOPPED"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is not stopped
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrNotRunning is returned by Stop when the loop is not running
	ErrNotRunning = errors.New("scheduler not running")
)

// UnavailableError reports a collaborator that could not be read for a whole cycle
type UnavailableError struct {
	Collaborator string
	Err          error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Store is the slice of the automation store the loop needs
type Store interface {
	Get(ctx context.Context, id string) (models.Automation, error)
	List(ctx context.Context, enabledOnly bool) ([]models.Automation, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (models.Automation, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
	RecordRun(ctx context.Context, run models.Run) error
}

// StateReader returns the current state of every known device entity
type StateReader interface {
	GetStates(ctx context.Context) (map[string]string, error)
}

// Executor runs one automation's action
type Executor interface {
	Execute(ctx context.Context, a models.Automation) automation.Result
}

// MaxTimeInterval bounds the time cycle period. Time triggers match to the
// minute, so a longer period would skip minutes and miss their trigger.
const MaxTimeInterval = time.Minute

// Config tunes the loop
type Config struct {
	// TimeInterval must be below MaxTimeInterval
	TimeInterval  time.Duration
	StateInterval time.Duration
	// AutoDisableAfter disables an automation after this many consecutive
	// failures. Zero retries forever.
	AutoDisableAfter int
}

// Scheduler periodically evaluates automations and executes the due ones.
// Cycles never overlap; automations within a cycle run sequentially in id order.
type Scheduler struct {
	cron      *cron.Cron
	store     Store
	states    StateReader
	evaluator *automation.Evaluator
	executor  Executor
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stats     Statistics

	// cycleMu serializes cycles and manual runs; failures is guarded by it.
	cycleMu  sync.Mutex
	failures map[string]int
}

// NewScheduler creates a stopped scheduler. states may be nil, in which case
// state triggers are never evaluated.
func NewScheduler(store Store, states StateReader, evaluator *automation.Evaluator, executor Executor, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.TimeInterval >= MaxTimeInterval {
		return nil, fmt.Errorf("time interval %s must be below %s", cfg.TimeInterval, MaxTimeInterval)
	}
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = time.Minute
	}
	logger = logger.Named("scheduler")

	cronLogger := NewCronLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(evaluator.Location()),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		store:     store,
		states:    states,
		evaluator: evaluator,
		executor:  executor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		state:     StateStopped,
		failures:  make(map[string]int),
	}

	if _, err := s.cron.AddFunc(every(cfg.TimeInterval), func() {
		_ = s.RunTimeCycle(context.Background(), s.now())
	}); err != nil {
		return nil, fmt.Errorf("schedule time cycle: %w", err)
	}
	if states != nil {
		if _, err := s.cron.AddFunc(every(cfg.StateInterval), func() {
			_ = s.RunStateCycle(context.Background(), s.now())
		}); err != nil {
			return nil, fmt.Errorf("schedule state cycle: %w", err)
		}
	}
	return s, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start starts the loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.startedAt = s.now()
	s.cron.Start()
	metrics.SetSchedulerRunning(true)
	s.logger.Info("scheduler started",
		zap.Duration("time_interval", s.cfg.TimeInterval),
		zap.Duration("state_interval", s.cfg.StateInterval))
	return nil
}

// Stop stops the loop, waiting for an in-flight cycle to complete
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	metrics.SetSchedulerRunning(false)
	s.logger.Info("scheduler stopped")
	return nil
}

// State returns the lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunTimeCycle evaluates time triggers at now and executes the due automations
func (s *Scheduler) RunTimeCycle(ctx context.Context, now time.Time) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	automations, err := s.store.List(ctx, true)
	if err != nil {
		return s.cycleFailed("time", start, &UnavailableError{Collaborator: "automation store", Err: err})
	}
	due := s.evaluator.DueTimeTriggers(now, automations)
	s.executeAll(ctx, due, now, models.RunSourceTime)
	s.cycleDone("time", start, len(automations), len(due))
	return nil
}

// RunStateCycle polls device states and executes automations whose entity
// transitioned into the configured state
func (s *Scheduler) RunStateCycle(ctx context.Context, now time.Time) error {
	if s.states == nil {
		return nil
	}
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	automations, err := s.store.List(ctx, true)
	if err != nil {
		return s.cycleFailed("state", start, &UnavailableError{Collaborator: "automation store", Err: err})
	}
	states, err := s.states.GetStates(ctx)
	if err != nil {
		return s.cycleFailed("state", start, &UnavailableError{Collaborator: "device states", Err: err})
	}
	due := s.evaluator.DueStateTriggers(states, automations)
	s.executeAll(ctx, due, now, models.RunSourceState)
	s.cycleDone("state", start, len(automations), len(due))
	return nil
}

// RunNow executes one automation immediately, outside of its trigger. It does
// not update last_triggered_at.
func (s *Scheduler) RunNow(ctx context.Context, id string) (automation.Result, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return automation.Result{}, err
	}
	return s.execute(ctx, a, s.now(), models.RunSourceManual), nil
}

func (s *Scheduler) executeAll(ctx context.Context, due []models.Automation, now time.Time, source models.RunSource) {
	for _, a := range due {
		s.execute(ctx, a, now, source)
	}
}

func (s *Scheduler) execute(ctx context.Context, a models.Automation, now time.Time, source models.RunSource) automation.Result {
	started := s.now()
	res := s.executor.Execute(ctx, a)
	elapsed := s.now().Sub(started)
	metrics.RecordExecution(string(source), elapsed, res.Success)

	run := models.Run{
		AutomationID: a.ID,
		StartedAt:    started,
		Duration:     elapsed,
		Success:      res.Success,
		Detail:       res.Detail,
		Source:       source,
	}
	if err := s.store.RecordRun(ctx, run); err != nil {
		s.logger.Warn("failed to record run", zap.String("automation_id", a.ID), zap.Error(err))
	}

	s.mu.Lock()
	if res.Success {
		s.stats.Successes++
	} else {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if res.Success {
		delete(s.failures, a.ID)
		if source == models.RunSourceManual {
			return res
		}
		if err := s.store.MarkTriggered(ctx, a.ID, now); err != nil {
			s.logger.Error("failed to mark automation triggered", zap.String("automation_id", a.ID), zap.Error(err))
		}
		return res
	}

	s.failures[a.ID]++
	s.logger.Warn("automation failed",
		zap.String("automation_id", a.ID),
		zap.String("source", string(source)),
		zap.Int("consecutive_failures", s.failures[a.ID]),
		zap.String("detail", res.Detail))
	if s.cfg.AutoDisableAfter > 0 && s.failures[a.ID] >= s.cfg.AutoDisableAfter {
		if _, err := s.store.SetEnabled(ctx, a.ID, false); err != nil {
			s.logger.Error("failed to auto-disable automation", zap.String("automation_id", a.ID), zap.Error(err))
		} else {
			s.logger.Warn("automation disabled after repeated failures",
				zap.String("automation_id", a.ID),
				zap.Int("failures", s.failures[a.ID]))
			delete(s.failures, a.ID)
		}
	}
	return res
}

func (s *Scheduler) cycleDone(kind string, start time.Time, evaluated, due int) {
	elapsed := s.now().Sub(start)
	s.mu.Lock()
	s.stats.Cycles++
	s.stats.LastCycleDuration = elapsed
	s.mu.Unlock()
	metrics.RecordCycle(kind, elapsed, nil)
	s.logger.Debug("cycle completed",
		zap.String("kind", kind),
		zap.Int("evaluated", evaluated),
		zap.Int("due", due),
		zap.Duration("duration", elapsed))
}

func (s *Scheduler) cycleFailed(kind string, start time.Time, err error) error {
	elapsed := s.now().Sub(start)
	s.mu.Lock()
	s.stats.Cycles++
	s.stats.CycleErrors++
	s.stats.LastCycleDuration = elapsed
	s.mu.Unlock()
	metrics.RecordCycle(kind, elapsed, err)
	s.logger.Error("cycle skipped", zap.String("kind", kind), zap.Error(err))
	return err
}
