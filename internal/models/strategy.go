// Package models holds the persisted entities of the monitoring engine:
// strategies, their conditions, the logic tree that composes them, and the
// trigger logs written when a strategy fires.
package models

import (
	"time"

	"github.com/google/uuid"
)

// StrategyStatus is the lifecycle state of a Strategy.
type StrategyStatus string

const (
	StatusActive   StrategyStatus = "active"
	StatusPaused   StrategyStatus = "paused"
	StatusArchived StrategyStatus = "archived"
	StatusError    StrategyStatus = "error"
)

// Strategy is a user-defined rule tree evaluated on its own schedule.
type Strategy struct {
	ID              uuid.UUID
	OwnerID         string
	Name            string
	Schedule        string
	LogicTree       *LogicNode
	Conditions      []*Condition
	Status          StrategyStatus
	LastRunAt       *time.Time
	LastTriggeredAt *time.Time
	TriggerCount    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConditionByID returns the condition with the given id, or nil if this
// strategy does not own it.
func (s *Strategy) ConditionByID(id string) *Condition {
	for _, c := range s.Conditions {
		if c.ID.String() == id {
			return c
		}
	}
	return nil
}

// ConditionType tags the shape of a Condition's payload.
type ConditionType string

const (
	ConditionPriceAlert         ConditionType = "price_alert"
	ConditionTechnicalIndicator ConditionType = "technical_indicator"
	ConditionVolumeAlert        ConditionType = "volume_alert"
)

// Condition is one atomic, typed predicate over market data.
type Condition struct {
	ID      uuid.UUID
	Type    ConditionType
	Payload ConditionPayload
	Enabled bool
	Label   string
}

// ConditionPayload is implemented by each condition type's concrete,
// validated payload. Payloads are parsed once at load time; an unknown
// type or malformed payload is rejected before it ever reaches the
// evaluator.
type ConditionPayload interface {
	conditionPayload()
}

// PriceAlertPayload backs ConditionPriceAlert.
type PriceAlertPayload struct {
	Asset       string
	Direction   string // "above" or "below"
	TargetPrice float64
}

func (PriceAlertPayload) conditionPayload() {}

// TechnicalIndicatorPayload backs ConditionTechnicalIndicator.
type TechnicalIndicatorPayload struct {
	Indicator string
	Params    map[string]float64
	// Band selects the Bollinger series a bollinger indicator evaluates
	// against ("middle", "upper", "lower"); ignored by every other
	// indicator. Kept out of Params because it is string-valued.
	Band      string
	Operator  string
	Value     float64
	Asset     string
	Timeframe string
}

func (TechnicalIndicatorPayload) conditionPayload() {}

// VolumeAlertPayload backs ConditionVolumeAlert. It is evaluated through
// the same volume-series logic as technical_indicator/indicator=volume.
type VolumeAlertPayload struct {
	Asset     string
	Timeframe string
	Operator  string
	Threshold float64
}

func (VolumeAlertPayload) conditionPayload() {}

// AllowedTimeframes is the closed set of candle timeframes a condition
// payload may name.
var AllowedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "12h": true, "1d": true, "1w": true,
}

// LogicOperator composes child nodes of a LogicNode group.
type LogicOperator string

const (
	OperatorAND LogicOperator = "AND"
	OperatorOR  LogicOperator = "OR"
)

// LogicNode is a recursive Boolean tree node: either a Leaf naming a
// condition id, or a Group combining children with AND/OR.
type LogicNode struct {
	Ref      string
	Operator LogicOperator
	Children []*LogicNode
}

// IsLeaf reports whether this node is a leaf (as opposed to a group).
func (n *LogicNode) IsLeaf() bool {
	return n.Ref != ""
}

// TriggerLog is an append-only audit record written whenever a strategy's
// logic tree evaluates true.
type TriggerLog struct {
	ID          uuid.UUID
	StrategyID  uuid.UUID
	TriggeredAt time.Time
	Snapshot    map[string]ConditionSnapshot
	Message     string
}

// ConditionSnapshot is the per-condition record stored in a TriggerLog,
// and returned as the audit detail of a Logic Tree evaluation.
type ConditionSnapshot struct {
	Met     bool                   `json:"met"`
	Value   *float64               `json:"value,omitempty"`
	Details map[string]interface{} `json:"details"`
}
