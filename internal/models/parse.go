package models

import (
	"fmt"
)

// ParseConditionPayload validates and converts a raw JSON-decoded payload
// map into its typed ConditionPayload, dispatching on the condition type.
// Unknown types and malformed payloads are rejected here, at load time,
// rather than discovered mid-evaluation.
func ParseConditionPayload(t ConditionType, raw map[string]interface{}) (ConditionPayload, error) {
	switch t {
	case ConditionPriceAlert:
		return parsePriceAlert(raw)
	case ConditionTechnicalIndicator:
		return parseTechnicalIndicator(raw)
	case ConditionVolumeAlert:
		return parseVolumeAlert(raw)
	default:
		return nil, fmt.Errorf("unknown condition type %q", t)
	}
}

func parsePriceAlert(raw map[string]interface{}) (ConditionPayload, error) {
	asset, ok := stringField(raw, "asset")
	if !ok {
		return nil, fmt.Errorf("price_alert: missing asset")
	}
	direction, ok := stringField(raw, "direction")
	if !ok || (direction != "above" && direction != "below") {
		return nil, fmt.Errorf("price_alert: direction must be 'above' or 'below'")
	}
	target, ok := floatField(raw, "target_price")
	if !ok {
		return nil, fmt.Errorf("price_alert: missing target_price")
	}
	return PriceAlertPayload{Asset: asset, Direction: direction, TargetPrice: target}, nil
}

func parseTechnicalIndicator(raw map[string]interface{}) (ConditionPayload, error) {
	indicator, ok := stringField(raw, "indicator")
	if !ok {
		return nil, fmt.Errorf("technical_indicator: missing indicator")
	}
	operator, ok := stringField(raw, "operator")
	if !ok {
		return nil, fmt.Errorf("technical_indicator: missing operator")
	}
	value, ok := floatField(raw, "value")
	if !ok {
		return nil, fmt.Errorf("technical_indicator: missing value")
	}
	asset, ok := stringField(raw, "asset")
	if !ok {
		return nil, fmt.Errorf("technical_indicator: missing asset")
	}
	timeframe, ok := stringField(raw, "timeframe")
	if !ok {
		return nil, fmt.Errorf("technical_indicator: missing timeframe")
	}
	if !AllowedTimeframes[timeframe] {
		return nil, fmt.Errorf("technical_indicator: unrecognised timeframe %q", timeframe)
	}

	params := map[string]float64{}
	band := ""
	if rawParams, ok := raw["params"].(map[string]interface{}); ok {
		for k, v := range rawParams {
			if k == "band" {
				if s, ok := v.(string); ok {
					band = s
				}
				continue
			}
			if f, ok := toFloat(v); ok {
				params[k] = f
			}
		}
	}

	return TechnicalIndicatorPayload{
		Indicator: indicator,
		Params:    params,
		Band:      band,
		Operator:  operator,
		Value:     value,
		Asset:     asset,
		Timeframe: timeframe,
	}, nil
}

func parseVolumeAlert(raw map[string]interface{}) (ConditionPayload, error) {
	asset, ok := stringField(raw, "asset")
	if !ok {
		return nil, fmt.Errorf("volume_alert: missing asset")
	}
	timeframe, ok := stringField(raw, "timeframe")
	if !ok {
		return nil, fmt.Errorf("volume_alert: missing timeframe")
	}
	if !AllowedTimeframes[timeframe] {
		return nil, fmt.Errorf("volume_alert: unrecognised timeframe %q", timeframe)
	}
	operator, ok := stringField(raw, "operator")
	if !ok {
		return nil, fmt.Errorf("volume_alert: missing operator")
	}
	threshold, ok := floatField(raw, "threshold")
	if !ok {
		return nil, fmt.Errorf("volume_alert: missing threshold")
	}
	return VolumeAlertPayload{Asset: asset, Timeframe: timeframe, Operator: operator, Threshold: threshold}, nil
}

func stringField(raw map[string]interface{}, key string) (string, bool) {
	v, ok := raw[key].(string)
	return v, ok && v != ""
}

func floatField(raw map[string]interface{}, key string) (float64, bool) {
	return toFloat(raw[key])
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ParseLogicTree validates and converts a raw JSON-decoded logic tree into
// a *LogicNode, checking that every leaf `ref` resolves to one of
// conditionIDs, that every group has a non-empty child list, and that
// every group operator is recognised.
func ParseLogicTree(raw map[string]interface{}, conditionIDs map[string]bool) (*LogicNode, error) {
	if ref, ok := raw["ref"].(string); ok && ref != "" {
		if !conditionIDs[ref] {
			return nil, fmt.Errorf("logic tree: ref %q does not resolve to a condition on this strategy", ref)
		}
		return &LogicNode{Ref: ref}, nil
	}

	opRaw, _ := raw["operator"].(string)
	op := LogicOperator(opRaw)
	if op != OperatorAND && op != OperatorOR {
		return nil, fmt.Errorf("logic tree: unrecognised operator %q", opRaw)
	}

	rawChildren, _ := raw["conditions"].([]interface{})
	if len(rawChildren) == 0 {
		return nil, fmt.Errorf("logic tree: group %q has no children", op)
	}

	children := make([]*LogicNode, 0, len(rawChildren))
	for _, rc := range rawChildren {
		m, ok := rc.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("logic tree: child is not an object")
		}
		child, err := ParseLogicTree(m, conditionIDs)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return &LogicNode{Operator: op, Children: children}, nil
}
