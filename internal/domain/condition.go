package domain

import (
	"encoding/json"
	"fmt"
)

// ConditionKind identifies a rule condition variant
type ConditionKind string

const (
	KindStageEntered ConditionKind = "STAGE_ENTERED"
	KindPriceAbove   ConditionKind = "PRICE_ABOVE"
	KindPriceBelow   ConditionKind = "PRICE_BELOW"
	KindVolumeSpike  ConditionKind = "VOLUME_SPIKE"
)

// DefaultVolumeSpikeMultiplier applies when a VOLUME_SPIKE condition omits one
const DefaultVolumeSpikeMultiplier = 2.0

// Condition is a closed set of rule condition variants. Each variant
// carries only the fields its kind needs; payloads are validated when a
// rule is created or updated, not at evaluation time.
type Condition interface {
	Kind() ConditionKind
	validate() error
}

// StageEntered triggers when the classified stage transitions into Stage
type StageEntered struct {
	Stage Stage `json:"stage"`
}

// Kind returns the condition kind
func (c StageEntered) Kind() ConditionKind { return KindStageEntered }

func (c StageEntered) validate() error {
	if !c.Stage.IsValid() {
		return fmt.Errorf("invalid target stage: %q", c.Stage)
	}
	return nil
}

// PriceAbove triggers when the last price crosses above Threshold
type PriceAbove struct {
	Threshold float64 `json:"threshold"`
}

// Kind returns the condition kind
func (c PriceAbove) Kind() ConditionKind { return KindPriceAbove }

func (c PriceAbove) validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("price threshold must be positive, got %g", c.Threshold)
	}
	return nil
}

// PriceBelow triggers when the last price crosses below Threshold
type PriceBelow struct {
	Threshold float64 `json:"threshold"`
}

// Kind returns the condition kind
func (c PriceBelow) Kind() ConditionKind { return KindPriceBelow }

func (c PriceBelow) validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("price threshold must be positive, got %g", c.Threshold)
	}
	return nil
}

// VolumeSpike triggers when the volume ratio crosses above Multiplier
type VolumeSpike struct {
	Multiplier float64 `json:"multiplier"`
}

// Kind returns the condition kind
func (c VolumeSpike) Kind() ConditionKind { return KindVolumeSpike }

func (c VolumeSpike) validate() error {
	if c.Multiplier < 1 {
		return fmt.Errorf("volume multiplier must be at least 1, got %g", c.Multiplier)
	}
	return nil
}

// ParseCondition decodes and validates a condition payload for the given
// kind. This is the single boundary where loosely-typed payloads become
// typed variants.
func ParseCondition(kind ConditionKind, payload []byte) (Condition, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	switch kind {
	case KindStageEntered:
		var c StageEntered
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return c, nil

	case KindPriceAbove:
		var c PriceAbove
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return c, nil

	case KindPriceBelow:
		var c PriceBelow
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return c, nil

	case KindVolumeSpike:
		var c VolumeSpike
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if c.Multiplier == 0 {
			c.Multiplier = DefaultVolumeSpikeMultiplier
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown condition kind: %q", kind)
	}
}

// MarshalCondition encodes a condition payload for storage
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("condition is nil")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s condition: %w", c.Kind(), err)
	}
	return payload, nil
}
