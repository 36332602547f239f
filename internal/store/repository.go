package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"strategy-monitor/internal/models"
)

// LoadActive returns every strategy with status=active, with its
// conditions and logic tree eagerly attached: one query for the
// strategies, then one batched query for all of their conditions.
// Due-ness filtering happens in the scheduler package, which needs the
// current wall clock, not the store.
func (s *Store) LoadActive(ctx context.Context) ([]*models.Strategy, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, owner_id, name, schedule, logic_tree, status,
		       last_run_at, last_triggered_at, trigger_count, created_at, updated_at
		FROM strategies
		WHERE status = $1
		ORDER BY created_at ASC
	`, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("store: loading active strategies: %w", err)
	}
	defer rows.Close()

	strategies, rawTrees, err := scanStrategies(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachConditions(ctx, strategies, rawTrees); err != nil {
		return nil, err
	}
	return strategies, nil
}

// LoadByID returns one strategy with conditions attached, or (nil, nil)
// if it does not exist.
func (s *Store) LoadByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, owner_id, name, schedule, logic_tree, status,
		       last_run_at, last_triggered_at, trigger_count, created_at, updated_at
		FROM strategies
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("store: loading strategy %s: %w", id, err)
	}
	defer rows.Close()

	strategies, rawTrees, err := scanStrategies(rows)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, nil
	}
	if err := s.attachConditions(ctx, strategies, rawTrees); err != nil {
		return nil, err
	}
	return strategies[0], nil
}

func scanStrategies(rows pgx.Rows) ([]*models.Strategy, map[uuid.UUID]map[string]interface{}, error) {
	var out []*models.Strategy
	rawTrees := make(map[uuid.UUID]map[string]interface{})
	for rows.Next() {
		var (
			strat        models.Strategy
			rawLogicTree []byte
			status       string
			lastRunAt    *time.Time
			lastTrigAt   *time.Time
		)
		if err := rows.Scan(&strat.ID, &strat.OwnerID, &strat.Name, &strat.Schedule,
			&rawLogicTree, &status, &lastRunAt, &lastTrigAt, &strat.TriggerCount,
			&strat.CreatedAt, &strat.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("store: scanning strategy row: %w", err)
		}
		strat.Status = models.StrategyStatus(status)
		strat.LastRunAt = lastRunAt
		strat.LastTriggeredAt = lastTrigAt

		var rawTree map[string]interface{}
		if err := json.Unmarshal(rawLogicTree, &rawTree); err != nil {
			return nil, nil, fmt.Errorf("store: decoding logic tree for strategy %s: %w", strat.ID, err)
		}
		rawTrees[strat.ID] = rawTree
		out = append(out, &strat)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: iterating strategy rows: %w", err)
	}
	return out, rawTrees, nil
}

// attachConditions loads every condition belonging to strategies, parses
// each strategy's raw logic tree against the set of condition ids it now
// owns, and assigns both onto the strategy.
func (s *Store) attachConditions(ctx context.Context, strategies []*models.Strategy, rawTrees map[uuid.UUID]map[string]interface{}) error {
	if len(strategies) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(strategies))
	byID := make(map[uuid.UUID]*models.Strategy, len(strategies))
	for i, strat := range strategies {
		ids[i] = strat.ID
		byID[strat.ID] = strat
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, strategy_id, type, payload, enabled, label
		FROM strategy_conditions
		WHERE strategy_id = ANY($1)
		ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("store: loading conditions: %w", err)
	}
	defer rows.Close()

	conditionIDsByStrategy := make(map[uuid.UUID]map[string]bool, len(strategies))
	for rows.Next() {
		var (
			id, strategyID uuid.UUID
			condType       string
			rawPayload     []byte
			enabled        bool
			label          string
		)
		if err := rows.Scan(&id, &strategyID, &condType, &rawPayload, &enabled, &label); err != nil {
			return fmt.Errorf("store: scanning condition row: %w", err)
		}

		var rawMap map[string]interface{}
		if err := json.Unmarshal(rawPayload, &rawMap); err != nil {
			return fmt.Errorf("store: decoding payload for condition %s: %w", id, err)
		}
		payload, err := models.ParseConditionPayload(models.ConditionType(condType), rawMap)
		if err != nil {
			return fmt.Errorf("store: condition %s: %w", id, err)
		}

		strat, ok := byID[strategyID]
		if !ok {
			continue
		}
		strat.Conditions = append(strat.Conditions, &models.Condition{
			ID:      id,
			Type:    models.ConditionType(condType),
			Payload: payload,
			Enabled: enabled,
			Label:   label,
		})
		if conditionIDsByStrategy[strategyID] == nil {
			conditionIDsByStrategy[strategyID] = make(map[string]bool)
		}
		conditionIDsByStrategy[strategyID][id.String()] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterating condition rows: %w", err)
	}

	for _, strat := range strategies {
		tree, err := models.ParseLogicTree(rawTrees[strat.ID], conditionIDsByStrategy[strat.ID])
		if err != nil {
			return fmt.Errorf("store: logic tree for strategy %s: %w", strat.ID, err)
		}
		strat.LogicTree = tree
	}
	return nil
}

// RecordRun persists the bookkeeping from one strategy's cycle
// evaluation: last_run_at always, plus trigger_count/last_triggered_at
// and a new trigger log when the strategy fired.
func (s *Store) RecordRun(ctx context.Context, strategyID uuid.UUID, now time.Time, triggered bool, snapshot map[string]models.ConditionSnapshot, message string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE strategies SET last_run_at = $2, updated_at = $2 WHERE id = $1`, strategyID, now); err != nil {
		return fmt.Errorf("store: updating last_run_at: %w", err)
	}

	if triggered {
		if _, err := tx.Exec(ctx, `
			UPDATE strategies
			SET trigger_count = trigger_count + 1, last_triggered_at = $2, updated_at = $2
			WHERE id = $1
		`, strategyID, now); err != nil {
			return fmt.Errorf("store: updating trigger bookkeeping: %w", err)
		}

		rawSnapshot, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("store: marshalling snapshot: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO strategy_trigger_logs (strategy_id, triggered_at, snapshot, message)
			VALUES ($1, $2, $3, $4)
		`, strategyID, now, rawSnapshot, message); err != nil {
			return fmt.Errorf("store: inserting trigger log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: committing run record: %w", err)
	}
	return nil
}

// TriggerLogs returns the most recent trigger logs for a strategy, newest
// first, for the control plane's debug endpoint.
func (s *Store) TriggerLogs(ctx context.Context, strategyID uuid.UUID, limit int) ([]*models.TriggerLog, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, strategy_id, triggered_at, snapshot, message
		FROM strategy_trigger_logs
		WHERE strategy_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: loading trigger logs: %w", err)
	}
	defer rows.Close()

	var out []*models.TriggerLog
	for rows.Next() {
		var (
			log     models.TriggerLog
			rawSnap []byte
			message string
		)
		if err := rows.Scan(&log.ID, &log.StrategyID, &log.TriggeredAt, &rawSnap, &message); err != nil {
			return nil, fmt.Errorf("store: scanning trigger log row: %w", err)
		}
		if err := json.Unmarshal(rawSnap, &log.Snapshot); err != nil {
			return nil, fmt.Errorf("store: decoding snapshot for trigger log %s: %w", log.ID, err)
		}
		log.Message = message
		out = append(out, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating trigger log rows: %w", err)
	}
	return out, nil
}
