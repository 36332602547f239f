package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-monitor/internal/evaluator"
	"strategy-monitor/internal/logic"
	"strategy-monitor/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore and fakeCache are hand-rolled mocks satisfying the control
// plane's narrow Store/Cache interfaces, with injectable errors.
type fakeStore struct {
	strategies []*models.Strategy
	byID       map[uuid.UUID]*models.Strategy
	logs       []*models.TriggerLog
	healthErr  error
	listErr    error
}

func (s *fakeStore) LoadActive(ctx context.Context) ([]*models.Strategy, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.strategies, nil
}

func (s *fakeStore) LoadByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error) {
	return s.byID[id], nil
}

func (s *fakeStore) TriggerLogs(ctx context.Context, strategyID uuid.UUID, limit int) ([]*models.TriggerLog, error) {
	return s.logs, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return s.healthErr }

type fakeCache struct {
	values map[string]string
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Healthy() bool { return true }

type fakeMetrics struct{ m Metrics }

func (f fakeMetrics) Snapshot() Metrics { return f.m }

type trippingEvaluator struct{}

func (trippingEvaluator) Evaluate(ctx context.Context, c *models.Condition, quote string) evaluator.Result {
	return evaluator.Result{Met: true, Details: map[string]interface{}{}}
}

func newTestServer(store *fakeStore, cache *fakeCache, apiKey string) *Server {
	if cache == nil {
		cache = &fakeCache{values: map[string]string{}}
	}
	return New(Config{Addr: ":0", APIKey: apiKey}, store, cache, fakeMetrics{}, func() logic.ConditionEvaluator {
		return trippingEvaluator{}
	}, zerolog.Nop())
}

func TestHealth_OK(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealth_UnhealthyStoreReturns503(t *testing.T) {
	srv := newTestServer(&fakeStore{healthErr: errors.New("db down")}, nil, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAuthedRoute_MissingKeyRejected(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-Monitoring-Key, got %d", w.Code)
	}
}

func TestAuthedRoute_CorrectKeyAccepted(t *testing.T) {
	srv := newTestServer(&fakeStore{strategies: []*models.Strategy{{ID: uuid.New(), Name: "s1"}}}, nil, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct key, got %d", w.Code)
	}
	var body struct {
		Strategies []map[string]interface{} `json:"strategies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(body.Strategies) != 1 {
		t.Errorf("expected one strategy listed, got %d", len(body.Strategies))
	}
}

func TestAuthDisabled_WhenNoKeyConfigured(t *testing.T) {
	srv := newTestServer(&fakeStore{}, nil, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected auth to be disabled with an empty configured key, got %d", w.Code)
	}
}

func TestEvaluate_UnknownID_Returns404(t *testing.T) {
	srv := newTestServer(&fakeStore{byID: map[uuid.UUID]*models.Strategy{}}, nil, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/evaluate/"+uuid.New().String(), nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown strategy id, got %d", w.Code)
	}
}

func TestEvaluate_RunsLogicTreeAndReportsOutcome(t *testing.T) {
	condID := uuid.New()
	stratID := uuid.New()
	strat := &models.Strategy{
		ID:         stratID,
		Conditions: []*models.Condition{{ID: condID, Enabled: true}},
		LogicTree:  &models.LogicNode{Ref: condID.String()},
	}
	srv := newTestServer(&fakeStore{byID: map[uuid.UUID]*models.Strategy{stratID: strat}}, nil, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/evaluate/"+stratID.String(), nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Met bool `json:"met"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if !body.Met {
		t.Error("expected the scripted tripping evaluator to report met=true")
	}
}

func TestMetrics_ReflectsSnapshot(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := &fakeStore{}
	srv := New(Config{Addr: ":0", APIKey: "secret"}, store, &fakeCache{values: map[string]string{}},
		fakeMetrics{m: Metrics{CyclesRun: 3, StrategiesDue: 2, TriggersFired: 1, LastCycleAt: now}},
		func() logic.ConditionEvaluator { return trippingEvaluator{} }, zerolog.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	var body struct {
		CyclesRun     int64 `json:"cycles_run"`
		TriggersFired int64 `json:"triggers_fired"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.CyclesRun != 3 || body.TriggersFired != 1 {
		t.Errorf("expected metrics snapshot reflected verbatim, got %+v", body)
	}
}

func TestCacheGet_MissingKeyReturns400(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeCache{values: map[string]string{}}, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cache/get", nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a key query parameter, got %d", w.Code)
	}
}

func TestCacheGet_PresentValue(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeCache{values: map[string]string{"prices:BTC": "50000"}}, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cache/get?key=prices:BTC", nil)
	req.Header.Set("X-Monitoring-Key", "secret")
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if !body.Present || body.Value != "50000" {
		t.Errorf("unexpected cache/get body: %+v", body)
	}
}
