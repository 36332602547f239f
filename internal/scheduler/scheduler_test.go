package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-monitor/internal/evaluator"
	"strategy-monitor/internal/logic"
	"strategy-monitor/internal/models"
)

// fakeStore is a hand-rolled Store mock with call-tracking fields,
// mirroring the base repo's mock-service test pattern. LoadActive
// filters by status the way the real pgx-backed store's query does.
type fakeStore struct {
	mu sync.Mutex

	strategies []*models.Strategy
	loadErr    error

	runs []recordedRun
}

type recordedRun struct {
	strategyID uuid.UUID
	triggered  bool
	snapshot   map[string]models.ConditionSnapshot
}

func (s *fakeStore) LoadActive(ctx context.Context) ([]*models.Strategy, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var active []*models.Strategy
	for _, strat := range s.strategies {
		if strat.Status == models.StatusActive {
			active = append(active, strat)
		}
	}
	return active, nil
}

func (s *fakeStore) LoadByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error) {
	for _, strat := range s.strategies {
		if strat.ID == id {
			return strat, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RecordRun(ctx context.Context, strategyID uuid.UUID, now time.Time, triggered bool, snapshot map[string]models.ConditionSnapshot, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, recordedRun{strategyID: strategyID, triggered: triggered, snapshot: snapshot})
	for _, strat := range s.strategies {
		if strat.ID == strategyID {
			ts := now
			strat.LastRunAt = &ts
			if triggered {
				strat.TriggerCount++
				strat.LastTriggeredAt = &ts
			}
		}
	}
	return nil
}

// trippingEvaluator always reports a met leaf condition, letting cycle
// tests drive the scheduler's bookkeeping without the real indicator
// math.
type trippingEvaluator struct{}

func (trippingEvaluator) Evaluate(ctx context.Context, c *models.Condition, quote string) evaluator.Result {
	return evaluator.Result{Met: true, Details: map[string]interface{}{}}
}

func newTrippingCycle() logic.ConditionEvaluator { return trippingEvaluator{} }

var errStoreDown = errors.New("store unavailable")

func newActiveStrategy(schedule string, lastRunAt *time.Time) *models.Strategy {
	condID := uuid.New()
	return &models.Strategy{
		ID:         uuid.New(),
		Status:     models.StatusActive,
		Schedule:   schedule,
		LastRunAt:  lastRunAt,
		Conditions: []*models.Condition{{ID: condID, Enabled: true}},
		LogicTree:  &models.LogicNode{Ref: condID.String()},
	}
}

func TestIsDue_EventAlwaysDue(t *testing.T) {
	strat := newActiveStrategy("event", nil)
	if !isDue(strat, time.Now()) {
		t.Error("expected an event-scheduled strategy to always be due")
	}
}

func TestIsDue_NeverRun(t *testing.T) {
	strat := newActiveStrategy("5m", nil)
	if !isDue(strat, time.Now()) {
		t.Error("expected a strategy with no last_run_at to be due")
	}
}

func TestIsDue_IntervalElapsed(t *testing.T) {
	past := time.Now().UTC().Add(-10 * time.Minute)
	strat := newActiveStrategy("5m", &past)
	if !isDue(strat, time.Now().UTC()) {
		t.Error("expected due once the interval has elapsed")
	}
}

func TestIsDue_IntervalNotYetElapsed(t *testing.T) {
	recent := time.Now().UTC().Add(-1 * time.Minute)
	strat := newActiveStrategy("5m", &recent)
	if isDue(strat, time.Now().UTC()) {
		t.Error("expected not due before the interval elapses")
	}
}

func TestParseInterval_UnrecognisedFallsBackToOneMinute(t *testing.T) {
	if d := parseInterval("bogus"); d != defaultInterval {
		t.Errorf("expected unrecognised schedule to fall back to %v, got %v", defaultInterval, d)
	}
}

func TestParseInterval_Units(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"2d":  48 * time.Hour,
	}
	for literal, want := range cases {
		if got := parseInterval(literal); got != want {
			t.Errorf("parseInterval(%q) = %v, want %v", literal, got, want)
		}
	}
}

// S1-style integration: a due, active strategy whose condition trips
// gets its bookkeeping updated and a run recorded as triggered.
func TestRunCycle_TriggeredStrategy_RecordsRun(t *testing.T) {
	strat := newActiveStrategy("event", nil)
	store := &fakeStore{strategies: []*models.Strategy{strat}}

	sched := New(store, newTrippingCycle, Config{Period: time.Second, DefaultQuote: "usd"}, zerolog.Nop())
	sched.runCycle(context.Background())

	if len(store.runs) != 1 {
		t.Fatalf("expected exactly one recorded run, got %d", len(store.runs))
	}
	if !store.runs[0].triggered {
		t.Error("expected the run to be recorded as triggered")
	}
	if strat.LastRunAt == nil {
		t.Error("expected last_run_at to be advanced")
	}

	snap := sched.Snapshot()
	if snap.CyclesRun != 1 || snap.TriggersFired != 1 || snap.StrategiesDue != 1 {
		t.Errorf("expected metrics to reflect one cycle with one trigger, got %+v", snap)
	}
}

func TestRunCycle_PausedStrategySkipped(t *testing.T) {
	strat := newActiveStrategy("event", nil)
	strat.Status = models.StatusPaused
	store := &fakeStore{strategies: []*models.Strategy{strat}}

	sched := New(store, newTrippingCycle, DefaultConfig(), zerolog.Nop())
	sched.runCycle(context.Background())

	if len(store.runs) != 0 {
		t.Error("expected a paused strategy never to be evaluated or recorded, since LoadActive excludes it")
	}
}

func TestRunCycle_NotDueStrategySkipped(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Second)
	strat := newActiveStrategy("5m", &recent)
	store := &fakeStore{strategies: []*models.Strategy{strat}}

	sched := New(store, newTrippingCycle, DefaultConfig(), zerolog.Nop())
	sched.runCycle(context.Background())

	if len(store.runs) != 0 {
		t.Error("expected a not-yet-due strategy to be skipped this cycle")
	}
	snap := sched.Snapshot()
	if snap.CyclesRun != 1 || snap.StrategiesDue != 0 {
		t.Errorf("expected the cycle to be counted with zero due strategies, got %+v", snap)
	}
}

func TestRunCycle_LoadFailure_SkipsCycleEntirely(t *testing.T) {
	store := &fakeStore{loadErr: errStoreDown}
	sched := New(store, newTrippingCycle, DefaultConfig(), zerolog.Nop())
	sched.runCycle(context.Background())
	if len(store.runs) != 0 {
		t.Error("expected no runs recorded when loading active strategies fails")
	}
	if snap := sched.Snapshot(); snap.CyclesRun != 0 {
		t.Error("expected a failed load not to count as a completed cycle")
	}
}

// selectivePanicEvaluator panics only when asked to evaluate a
// designated condition, letting a single cycle-scoped evaluator (the
// scheduler builds exactly one per runCycle) panic for one strategy
// while serving a normal verdict to the rest.
type selectivePanicEvaluator struct {
	panicOn uuid.UUID
}

func (e selectivePanicEvaluator) Evaluate(ctx context.Context, c *models.Condition, quote string) evaluator.Result {
	if c.ID == e.panicOn {
		panic("boom")
	}
	return evaluator.Result{Met: true, Details: map[string]interface{}{}}
}

func TestRunCycle_PanicInOneStrategyDoesNotAbortCycle(t *testing.T) {
	bad := newActiveStrategy("event", nil)
	good := newActiveStrategy("event", nil)
	store := &fakeStore{strategies: []*models.Strategy{bad, good}}

	badCondID := bad.Conditions[0].ID
	sched := New(store, func() logic.ConditionEvaluator {
		return selectivePanicEvaluator{panicOn: badCondID}
	}, DefaultConfig(), zerolog.Nop())

	sched.runCycle(context.Background())

	if len(store.runs) != 1 {
		t.Fatalf("expected the panicking strategy to be skipped and the other recorded, got %d runs", len(store.runs))
	}
	if store.runs[0].strategyID != good.ID {
		t.Errorf("expected the surviving run to belong to the non-panicking strategy, got %v", store.runs[0].strategyID)
	}
}
