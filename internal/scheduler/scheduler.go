// Package scheduler drives the periodic evaluation cycle: load due
// strategies, evaluate each one's logic tree, and persist the
// bookkeeping and any trigger log in a single transaction per strategy.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-monitor/internal/logic"
	"strategy-monitor/internal/models"
)

// Store is the subset of the Strategy Store the scheduler depends on.
type Store interface {
	LoadActive(ctx context.Context) ([]*models.Strategy, error)
	LoadByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error)
	RecordRun(ctx context.Context, strategyID uuid.UUID, now time.Time, triggered bool, snapshot map[string]models.ConditionSnapshot, message string) error
}

// Config tunes the scheduler's tick period and default quote currency.
type Config struct {
	Period       time.Duration
	DefaultQuote string
}

func DefaultConfig() Config {
	return Config{Period: 5 * time.Second, DefaultQuote: "usd"}
}

// schedulerState is the idle/running/stopping lifecycle of the
// Scheduler.
type schedulerState int

const (
	stateIdle schedulerState = iota
	stateRunning
	stateStopping
)

// Scheduler runs the periodic ticker loop described by the batched
// scheduler's state machine: idle -> running -> stopping -> idle.
type Scheduler struct {
	store    Store
	newCycle func() logic.ConditionEvaluator
	config   Config
	log      zerolog.Logger

	mu     sync.Mutex
	state  schedulerState
	cancel context.CancelFunc
	done   chan struct{}

	metricsMu sync.Mutex
	metrics   Metrics
}

// Metrics is a point-in-time snapshot of scheduler activity, exposed to
// the control plane's GET /metrics route.
type Metrics struct {
	CyclesRun     int64
	StrategiesDue int64
	TriggersFired int64
	LastCycleAt   time.Time
}

// Snapshot returns the current Metrics, safe for concurrent use while
// the scheduler is running.
func (s *Scheduler) Snapshot() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

func New(store Store, newCycle func() logic.ConditionEvaluator, config Config, log zerolog.Logger) *Scheduler {
	if config.Period <= 0 {
		config.Period = DefaultConfig().Period
	}
	if config.DefaultQuote == "" {
		config.DefaultQuote = DefaultConfig().DefaultQuote
	}
	return &Scheduler{
		store:    store,
		newCycle: newCycle,
		config:   config,
		log:      log.With().Str("component", "scheduler").Logger(),
		state:    stateIdle,
	}
}

// Start is idempotent: calling it while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = stateRunning

	go s.loop(runCtx)
}

// Stop cancels the loop and blocks until the in-flight cycle observes
// cancellation and the loop exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Period)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle loads the due strategies and evaluates each in insertion
// order. A panic or error in one strategy's evaluation is logged and
// skipped rather than aborting the cycle.
func (s *Scheduler) runCycle(ctx context.Context) {
	strategies, err := s.store.LoadActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("loading active strategies failed, skipping cycle")
		return
	}

	now := time.Now().UTC()
	due := dueStrategies(strategies, now)

	cycleEval := s.newCycle()

	for _, strat := range due {
		select {
		case <-ctx.Done():
			s.recordCycle(len(due), now)
			return
		default:
		}
		s.evaluateStrategy(ctx, cycleEval, strat, now)
	}
	s.recordCycle(len(due), now)
}

func (s *Scheduler) recordCycle(due int, now time.Time) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.metrics.CyclesRun++
	s.metrics.StrategiesDue += int64(due)
	s.metrics.LastCycleAt = now
}

func (s *Scheduler) evaluateStrategy(ctx context.Context, cycleEval logic.ConditionEvaluator, strat *models.Strategy, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("strategy_id", strat.ID.String()).Msg("strategy evaluation panicked, skipping")
		}
	}()

	outcome := logic.Evaluate(ctx, cycleEval, strat, strat.LogicTree, s.config.DefaultQuote)

	message := ""
	if outcome.Met {
		message = fmt.Sprintf("strategy %q triggered", strat.Name)
		s.metricsMu.Lock()
		s.metrics.TriggersFired++
		s.metricsMu.Unlock()
	}

	if err := s.store.RecordRun(ctx, strat.ID, now, outcome.Met, outcome.Snapshot, message); err != nil {
		s.log.Error().Err(err).Str("strategy_id", strat.ID.String()).Msg("recording run failed, bookkeeping lost for this cycle")
	}
}

// intervalPattern matches an interval schedule literal like 5m, 1h, 30s.
var intervalPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

const defaultInterval = time.Minute

// isDue decides whether strat should run in this cycle, per the
// schedule literal: "event" is always due; an interval form n[smhd] is
// due once now-last_run_at >= the interval (or last_run_at is unset);
// anything unrecognised falls back to a 1 minute default interval.
func isDue(strat *models.Strategy, now time.Time) bool {
	if strat.Schedule == "event" {
		return true
	}
	interval := parseInterval(strat.Schedule)
	if strat.LastRunAt == nil {
		return true
	}
	return now.Sub(strat.LastRunAt.UTC()) >= interval
}

func parseInterval(schedule string) time.Duration {
	m := intervalPattern.FindStringSubmatch(schedule)
	if m == nil {
		return defaultInterval
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return defaultInterval
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	default:
		return defaultInterval
	}
}

func dueStrategies(all []*models.Strategy, now time.Time) []*models.Strategy {
	due := make([]*models.Strategy, 0, len(all))
	for _, strat := range all {
		if isDue(strat, now) {
			due = append(due, strat)
		}
	}
	return due
}
