package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	items   map[string]models.Automation
	runs    []models.Run
	listErr error
}

func newFakeStore(autos ...models.Automation) *fakeStore {
	s := &fakeStore{items: map[string]models.Automation{}}
	for _, a := range autos {
		s.items[a.ID] = a
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (models.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return models.Automation{}, models.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) List(_ context.Context, enabledOnly bool) ([]models.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Automation
	for _, a := range s.items {
		if enabledOnly && !a.Enabled {
			continue
		}
		out = append(out, a)
	}
	// Deliberately unsorted input for the evaluator.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeStore) SetEnabled(_ context.Context, id string, enabled bool) (models.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return models.Automation{}, models.ErrNotFound
	}
	a.Enabled = enabled
	s.items[id] = a
	return a, nil
}

func (s *fakeStore) MarkTriggered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return models.ErrNotFound
	}
	a.LastTriggeredAt = &at
	s.items[id] = a
	return nil
}

func (s *fakeStore) RecordRun(_ context.Context, run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) lastTriggered(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].LastTriggeredAt
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failing  map[string]bool
	block    chan struct{}
	started  chan string
}

func (e *fakeExecutor) Execute(_ context.Context, a models.Automation) automation.Result {
	if e.started != nil {
		e.started <- a.ID
	}
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, a.ID)
	if e.failing[a.ID] {
		return automation.Result{Success: false, Detail: "device offline"}
	}
	return automation.Result{Success: true, Detail: "ok"}
}

func (e *fakeExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

type fakeStates struct {
	polls []map[string]string
	err   error
}

func (f *fakeStates) GetStates(context.Context) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	next := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return next, nil
}

// 2026-10-16 is a Friday
var tenPM = time.Date(2026, 10, 16, 22, 0, 0, 0, time.UTC)

func timeAutomation(id string) models.Automation {
	return models.Automation{
		ID:      id,
		Enabled: true,
		Trigger: models.TimeTrigger{Time: "22:00", Days: models.Weekdays},
		Action:  models.AgentCommand{Command: "turn off " + id},
	}
}

func newTestScheduler(t *testing.T, store Store, states StateReader, exec Executor, cfg Config) *Scheduler {
	t.Helper()
	s, err := NewScheduler(store, states, automation.NewEvaluator(time.UTC, nil), exec, cfg, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return tenPM }
	return s
}

func TestRunTimeCycle_FailureIsolation(t *testing.T) {
	store := newFakeStore(timeAutomation("a"), timeAutomation("b"), timeAutomation("c"))
	exec := &fakeExecutor{failing: map[string]bool{"b": true}}
	s := newTestScheduler(t, store, nil, exec, Config{})

	require.NoError(t, s.RunTimeCycle(context.Background(), tenPM))

	assert.Equal(t, []string{"a", "b", "c"}, exec.calls())
	require.NotNil(t, store.lastTriggered("a"))
	require.NotNil(t, store.lastTriggered("c"))
	assert.True(t, store.lastTriggered("a").Equal(tenPM))
	assert.Nil(t, store.lastTriggered("b"))

	stats := s.Statistics()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(2), stats.Successes)
	assert.Equal(t, uint64(1), stats.Failures)

	require.Len(t, store.runs, 3)
	assert.False(t, store.runs[1].Success)
	assert.Equal(t, models.RunSourceTime, store.runs[1].Source)
}

func TestRunTimeCycle_NoDoubleFireButFailedRuleRetries(t *testing.T) {
	store := newFakeStore(timeAutomation("a"), timeAutomation("b"))
	exec := &fakeExecutor{failing: map[string]bool{"b": true}}
	s := newTestScheduler(t, store, nil, exec, Config{})
	ctx := context.Background()

	require.NoError(t, s.RunTimeCycle(ctx, tenPM))
	require.NoError(t, s.RunTimeCycle(ctx, tenPM.Add(30*time.Second)))

	assert.Equal(t, []string{"a", "b", "b"}, exec.calls())
}

func TestRunTimeCycle_AutoDisable(t *testing.T) {
	store := newFakeStore(timeAutomation("b"))
	exec := &fakeExecutor{failing: map[string]bool{"b": true}}
	s := newTestScheduler(t, store, nil, exec, Config{AutoDisableAfter: 2})
	ctx := context.Background()

	require.NoError(t, s.RunTimeCycle(ctx, tenPM))
	a, _ := store.Get(ctx, "b")
	assert.True(t, a.Enabled)

	require.NoError(t, s.RunTimeCycle(ctx, tenPM.Add(20*time.Second)))
	a, _ = store.Get(ctx, "b")
	assert.False(t, a.Enabled)

	require.NoError(t, s.RunTimeCycle(ctx, tenPM.Add(40*time.Second)))
	assert.Len(t, exec.calls(), 2)
}

func TestRunTimeCycle_StoreUnavailable(t *testing.T) {
	store := newFakeStore(timeAutomation("a"))
	store.listErr = errors.New("connection refused")
	exec := &fakeExecutor{}
	s := newTestScheduler(t, store, nil, exec, Config{})

	err := s.RunTimeCycle(context.Background(), tenPM)
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "automation store", unavailable.Collaborator)
	assert.Empty(t, exec.calls())
	assert.Equal(t, uint64(1), s.Statistics().CycleErrors)

	store.listErr = nil
	require.NoError(t, s.RunTimeCycle(context.Background(), tenPM))
	assert.Equal(t, []string{"a"}, exec.calls())
}

func TestRunStateCycle_FiresOncePerTransition(t *testing.T) {
	home := models.Automation{
		ID:      "welcome",
		Enabled: true,
		Trigger: models.StateTrigger{EntityID: "person.alice", To: "home"},
		Action:  models.AgentCommand{Command: "turn on hall lights"},
	}
	store := newFakeStore(home)
	exec := &fakeExecutor{}
	states := &fakeStates{polls: []map[string]string{
		{"person.alice": "away"},
		{"person.alice": "home"},
		{"person.alice": "home"},
		{"person.alice": "home"},
	}}
	s := newTestScheduler(t, store, states, exec, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.RunStateCycle(ctx, tenPM.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, []string{"welcome"}, exec.calls())
	require.NotNil(t, store.lastTriggered("welcome"))
	assert.True(t, store.lastTriggered("welcome").Equal(tenPM.Add(time.Minute)))

	states.err = errors.New("mqtt down")
	var unavailable *UnavailableError
	require.True(t, errors.As(s.RunStateCycle(ctx, tenPM), &unavailable))
	assert.Equal(t, "device states", unavailable.Collaborator)
}

func TestRunNow(t *testing.T) {
	store := newFakeStore(timeAutomation("a"))
	exec := &fakeExecutor{}
	s := newTestScheduler(t, store, nil, exec, Config{})

	res, err := s.RunNow(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, store.lastTriggered("a"))
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.RunSourceManual, store.runs[0].Source)

	_, err = s.RunNow(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestNewScheduler_RejectsTimeIntervalThatSkipsMinutes(t *testing.T) {
	eval := automation.NewEvaluator(time.UTC, nil)
	for _, d := range []time.Duration{time.Minute, 5 * time.Minute} {
		_, err := NewScheduler(newFakeStore(), nil, eval, &fakeExecutor{}, Config{TimeInterval: d}, nil)
		assert.Error(t, err, d.String())
	}

	s, err := NewScheduler(newFakeStore(), nil, eval, &fakeExecutor{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.cfg.TimeInterval)
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestScheduler(t, newFakeStore(), nil, &fakeExecutor{}, Config{TimeInterval: 59 * time.Second})

	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start())
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
	require.NotNil(t, s.Statistics().StartedAt)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.Statistics().StartedAt)

	// Restart after stop.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the first cron tick")
	}
	store := newFakeStore(timeAutomation("a"))
	exec := &fakeExecutor{block: make(chan struct{}), started: make(chan string, 1)}
	s := newTestScheduler(t, store, nil, exec, Config{TimeInterval: time.Second})

	require.NoError(t, s.Start())
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not start")
	}

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return s.State() == StateStopping }, time.Second, 5*time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("stop returned before the cycle finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []string{"a"}, exec.calls())
	assert.NotNil(t, store.lastTriggered("a"))
}
