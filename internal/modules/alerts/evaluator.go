package alerts

import (
	"fmt"

	"github.com/aristath/signal-sentinel/internal/domain"
)

// stateNone labels the from-state before a rule has observed anything
const stateNone = "NONE"

// Trigger describes a reportable edge for one rule
type Trigger struct {
	FromState      string
	ToState        string
	Price          float64
	Classification domain.Classification
}

// Evaluate decides whether a reportable edge occurred for one rule given a
// fresh classification. Level conditions are converted to edge-triggered
// via the stored last state: a condition already true on the previous
// evaluation never re-reports. Returns nil when no edge occurred; the
// caller still replaces the rule's last state so the next tick has correct
// hysteresis.
func Evaluate(rule *domain.AlertRule, quote domain.Quote, c domain.Classification) (*Trigger, error) {
	last := rule.LastState

	switch cond := rule.Condition.(type) {
	case domain.StageEntered:
		if c.Stage != cond.Stage {
			return nil, nil
		}
		if last != nil && last.Stage == cond.Stage {
			return nil, nil
		}
		from := stateNone
		if last != nil {
			from = string(last.Stage)
		}
		return &Trigger{
			FromState:      from,
			ToState:        string(cond.Stage),
			Price:          quote.Last,
			Classification: c,
		}, nil

	case domain.PriceAbove:
		if quote.Last <= cond.Threshold {
			return nil, nil
		}
		if last != nil && last.Price > cond.Threshold {
			return nil, nil
		}
		return &Trigger{
			FromState:      fmt.Sprintf("BELOW_%.2f", cond.Threshold),
			ToState:        fmt.Sprintf("ABOVE_%.2f", cond.Threshold),
			Price:          quote.Last,
			Classification: c,
		}, nil

	case domain.PriceBelow:
		if quote.Last >= cond.Threshold {
			return nil, nil
		}
		if last != nil && last.Price < cond.Threshold {
			return nil, nil
		}
		return &Trigger{
			FromState:      fmt.Sprintf("ABOVE_%.2f", cond.Threshold),
			ToState:        fmt.Sprintf("BELOW_%.2f", cond.Threshold),
			Price:          quote.Last,
			Classification: c,
		}, nil

	case domain.VolumeSpike:
		if c.VolumeRatio < cond.Multiplier {
			return nil, nil
		}
		if last != nil && last.VolumeRatio >= cond.Multiplier {
			return nil, nil
		}
		return &Trigger{
			FromState:      "VOLUME_NORMAL",
			ToState:        fmt.Sprintf("VOLUME_%.1fX", cond.Multiplier),
			Price:          quote.Last,
			Classification: c,
		}, nil

	case nil:
		return nil, fmt.Errorf("rule %s has no condition", rule.ID)

	default:
		return nil, fmt.Errorf("rule %s has unknown condition kind %s", rule.ID, rule.Condition.Kind())
	}
}

// EventKey builds the at-most-once-per-day dedup key for a symbol-bound
// rule transition.
func EventKey(ruleID, toState, day string) string {
	return fmt.Sprintf("%s|%s|%s", ruleID, toState, day)
}

// GlobalEventKey builds the dedup key for a global-rule transition,
// scoped to the matched symbol.
func GlobalEventKey(ruleID, symbol, toState, day string) string {
	return fmt.Sprintf("%s|%s:%s|%s", ruleID, symbol, toState, day)
}
