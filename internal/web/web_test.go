package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/conversation"
	"homeassist/internal/db/sqlite"
	"homeassist/internal/models"
	"homeassist/internal/scheduler"
	"homeassist/internal/web/api"
	"homeassist/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	store   *automation.Store
	ran     []string
	ctxErrs []error
}

func (r *fakeRunner) RunNow(ctx context.Context, id string) (automation.Result, error) {
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if _, err := r.store.Get(ctx, id); err != nil {
		return automation.Result{}, err
	}
	r.ran = append(r.ran, id)
	return automation.Result{Success: true, Detail: "done"}, nil
}

type fakeEnqueuer struct {
	queued []string
}

func (e *fakeEnqueuer) EnqueueRun(_ context.Context, id string) (string, error) {
	e.queued = append(e.queued, id)
	return "task-1", nil
}

type fakePipeline struct {
	reply string
	err   error
}

func (p fakePipeline) Run(context.Context, string) (string, error) {
	return p.reply, p.err
}

type fakeStats struct{}

func (fakeStats) Statistics() scheduler.Statistics {
	return scheduler.Statistics{State: scheduler.StateRunning, Cycles: 3}
}

type fakeStates struct {
	states map[string]string
	err    error
}

func (f fakeStates) GetStates(context.Context) (map[string]string, error) {
	return f.states, f.err
}

type testServer struct {
	handler  http.Handler
	store    *automation.Store
	runner   *fakeRunner
	enqueuer *fakeEnqueuer
}

func newTestServer(t *testing.T, cfg Config, mutate func(*api.Dependencies)) *testServer {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store := automation.NewStore(repo, nil)
	ts := &testServer{
		store:    store,
		runner:   &fakeRunner{store: store},
		enqueuer: &fakeEnqueuer{},
	}
	deps := api.Dependencies{
		Store:         store,
		Runner:        ts.runner,
		Enqueuer:      ts.enqueuer,
		Conversations: conversation.NewManager(conversation.NewMemoryRegistry(), store, nil, 0, nil),
		Pipeline:      fakePipeline{reply: "The kitchen lights are on."},
		Scheduler:     fakeStats{},
		States:        fakeStates{states: map[string]string{"light.kitchen": "on"}},
		Location:      time.UTC,
	}
	if mutate != nil {
		mutate(&deps)
	}
	ts.handler = NewWebServer(cfg, deps, nil).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const bedtime = `{
	"name": "Bedtime",
	"trigger_type": "time",
	"trigger_config": {"time": "22:00", "days": ["mon", "tue"]},
	"action_type": "agent_command",
	"action_config": {"command": "turn off all lights"}
}`

func TestAutomationCRUD(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do(t, http.MethodPost, "/automations", bedtime)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	id := created["id"].(string)
	assert.Equal(t, "Bedtime", created["name"])
	assert.Equal(t, true, created["enabled"])
	assert.Equal(t, "time", created["trigger_type"])

	w = ts.do(t, http.MethodGet, "/automations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = ts.do(t, http.MethodPatch, "/automations/"+id, `{"name":"Lights out"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Lights out", decode[map[string]any](t, w)["name"])

	w = ts.do(t, http.MethodPost, "/automations/"+id+"/toggle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["enabled"])

	w = ts.do(t, http.MethodGet, "/automations?enabled=true", "")
	assert.Empty(t, decode[[]map[string]any](t, w))

	w = ts.do(t, http.MethodPost, "/automations/"+id+"/toggle", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["enabled"])

	w = ts.do(t, http.MethodDelete, "/automations/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/automations/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/automations/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAutomationValidation(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do(t, http.MethodPost, "/automations", `{
		"trigger_type": "time",
		"trigger_config": {"time": "25:00"},
		"action_type": "agent_command",
		"action_config": {"command": "turn off lights"}
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "trigger_config.time", decode[map[string]any](t, w)["field"])

	w = ts.do(t, http.MethodPost, "/automations", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list, err := ts.store.List(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunAutomation(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	w := ts.do(t, http.MethodPost, "/automations", bedtime)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]any](t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, "/automations/"+id+"/run", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode[map[string]any](t, w)
	assert.Equal(t, false, run["queued"])
	assert.Equal(t, true, run["result"].(map[string]any)["success"])
	assert.Equal(t, []string{id}, ts.runner.ran)

	w = ts.do(t, http.MethodPost, "/automations/"+id+"/run?async=true", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "task-1", decode[map[string]any](t, w)["task_id"])
	assert.Equal(t, []string{id}, ts.enqueuer.queued)

	w = ts.do(t, http.MethodPost, "/automations/missing/run?async=true", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodPost, "/automations/missing/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunNowOutlivesClientDisconnect(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	w := ts.do(t, http.MethodPost, "/automations", bedtime)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]any](t, w)["id"].(string)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/automations/"+id+"/run", nil).WithContext(ctx)
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{id}, ts.runner.ran)
	assert.Equal(t, []error{nil}, ts.runner.ctxErrs)
}

func TestRunsAndNextRun(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	w := ts.do(t, http.MethodPost, "/automations", bedtime)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]any](t, w)["id"].(string)

	require.NoError(t, ts.store.RecordRun(context.Background(), models.Run{
		AutomationID: id,
		StartedAt:    time.Now(),
		Duration:     1500 * time.Millisecond,
		Success:      true,
		Detail:       "ok",
		Source:       models.RunSourceManual,
	}))

	w = ts.do(t, http.MethodGet, "/automations/"+id+"/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]map[string]any](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, "manual", runs[0]["source"])
	assert.Equal(t, float64(1500), runs[0]["duration_ms"])

	w = ts.do(t, http.MethodGet, "/automations/"+id+"/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/automations/"+id+"/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[map[string]any](t, w)
	require.NotNil(t, next["next_run"])
	ts1, err := time.Parse(time.RFC3339, next["next_run"].(string))
	require.NoError(t, err)
	assert.Equal(t, 22, ts1.UTC().Hour())
	assert.Contains(t, []time.Weekday{time.Monday, time.Tuesday}, ts1.UTC().Weekday())
}

func TestConversationEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do(t, http.MethodPost, "/conversation", `{"utterance":"create an automation that turns off lights at 10pm"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Equal(t, true, first["consumed"])
	assert.Equal(t, "CONFIRMING", first["state"])
	id := first["conversation_id"].(string)
	require.NotEmpty(t, id)

	w = ts.do(t, http.MethodPost, "/conversation", `{"conversation_id":"`+id+`","utterance":"yes"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[map[string]any](t, w)
	assert.Equal(t, "IDLE", second["state"])
	require.NotNil(t, second["automation"])

	list, err := ts.store.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.AgentCommand{Command: "turn off lights"}, list[0].Action)
}

func TestConversationPassthrough(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do(t, http.MethodPost, "/conversation", `{"conversation_id":"c1","utterance":"turn on the kitchen lights"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, false, body["consumed"])
	assert.Equal(t, "The kitchen lights are on.", body["response"])

	failing := newTestServer(t, Config{}, func(d *api.Dependencies) {
		d.Pipeline = fakePipeline{err: errors.New("upstream down")}
	})
	w = failing.do(t, http.MethodPost, "/conversation", `{"conversation_id":"c1","utterance":"turn on the kitchen lights"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.do(t, http.MethodPost, "/conversation", `{"conversation_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulerAndDeviceRoutes(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do(t, http.MethodGet, "/scheduler/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.Equal(t, "RUNNING", stats["state"])
	assert.Equal(t, float64(3), stats["cycles"])

	w = ts.do(t, http.MethodGet, "/devices/states", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"light.kitchen": "on"}, decode[map[string]string](t, w))

	down := newTestServer(t, Config{}, func(d *api.Dependencies) {
		d.States = fakeStates{err: errors.New("redis: connection refused")}
	})
	w = down.do(t, http.MethodGet, "/devices/states", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Config{JWTSecret: "s3cret"}, nil)

	w := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])

	ts.do(t, http.MethodGet, "/automations", "")
	w = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "homeassist_http_requests_total")
}

func TestAuthentication(t *testing.T) {
	secret := "s3cret"
	ts := newTestServer(t, Config{JWTSecret: secret}, nil)

	w := ts.do(t, http.MethodGet, "/automations", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/automations", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := middleware.IssueToken([]byte("other"), "tester", time.Hour)
	require.NoError(t, err)
	w = ts.do(t, http.MethodGet, "/automations", "", "Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := middleware.IssueToken([]byte(secret), "tester", -time.Minute)
	require.NoError(t, err)
	w = ts.do(t, http.MethodGet, "/automations", "", "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.IssueToken([]byte(secret), "tester", time.Hour)
	require.NoError(t, err)
	w = ts.do(t, http.MethodGet, "/automations", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 2}, nil)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/automations", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/automations", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodGet, "/automations", "").Code)

	// probes are never limited
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "").Code)
}
