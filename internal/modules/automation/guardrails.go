package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
)

// SendHistory is the slice of event storage the guardrail checks need
type SendHistory interface {
	CountSentToday(profileID string, now time.Time) (int, error)
	LastSentForSymbol(profileID, symbol string) (*domain.AutomationEvent, error)
}

// GuardrailChecker evaluates a profile's guardrails against a signal.
// The check order is a documented contract: minScore, strategies, symbols,
// watchlists, time window, daily limit, cooldown. The first failure wins
// and its reason is what callers persist, so the order must never be
// rearranged for perceived efficiency.
type GuardrailChecker struct {
	history SendHistory
	log     zerolog.Logger
}

// NewGuardrailChecker creates a new guardrail checker
func NewGuardrailChecker(history SendHistory, log zerolog.Logger) *GuardrailChecker {
	return &GuardrailChecker{
		history: history,
		log:     log.With().Str("service", "guardrails").Logger(),
	}
}

// Check returns the first failing guardrail's reason, or "" when every
// guardrail passes. Storage lookups only run when the earlier, cheaper
// checks have already passed.
func (c *GuardrailChecker) Check(profile *domain.AutomationProfile, sig domain.SignalContext, now time.Time) (string, error) {
	g := profile.Guardrails

	if g.MinScore != nil {
		score := 0.0
		if sig.Score != nil {
			score = *sig.Score
		}
		if score < *g.MinScore {
			return fmt.Sprintf("score %.1f below minimum %.1f", score, *g.MinScore), nil
		}
	}

	if len(g.AllowedStrategies) > 0 && !containsFold(g.AllowedStrategies, sig.Strategy) {
		return fmt.Sprintf("strategy %s not in allowed list", sig.Strategy), nil
	}

	if len(g.AllowedSymbols) > 0 && !containsFold(g.AllowedSymbols, sig.Symbol) {
		return fmt.Sprintf("symbol %s not in allowed list", sig.Symbol), nil
	}

	if len(g.AllowedWatchlists) > 0 && !intersects(g.AllowedWatchlists, sig.Watchlists) {
		return fmt.Sprintf("symbol %s not in any allowed watchlist", sig.Symbol), nil
	}

	if g.WindowStart != nil && g.WindowEnd != nil {
		ok, err := inWindow(*g.WindowStart, *g.WindowEnd, now)
		if err != nil {
			return "", fmt.Errorf("invalid time window on profile %s: %w", profile.ID, err)
		}
		if !ok {
			return fmt.Sprintf("outside allowed window %s-%s", *g.WindowStart, *g.WindowEnd), nil
		}
	}

	if g.MaxPerDay != nil {
		count, err := c.history.CountSentToday(profile.ID, now)
		if err != nil {
			return "", err
		}
		if count >= *g.MaxPerDay {
			return fmt.Sprintf("daily limit reached (%d of %d)", count, *g.MaxPerDay), nil
		}
	}

	if g.CooldownMinutes != nil {
		last, err := c.history.LastSentForSymbol(profile.ID, sig.Symbol)
		if err != nil {
			return "", err
		}
		if last != nil {
			cooldown := time.Duration(*g.CooldownMinutes) * time.Minute
			if elapsed := now.Sub(last.CreatedAt); elapsed < cooldown {
				return fmt.Sprintf("cooldown active for %s (%.0f of %d minutes elapsed)",
					sig.Symbol, elapsed.Minutes(), *g.CooldownMinutes), nil
			}
		}
	}

	return "", nil
}

// inWindow reports whether the clock time of now falls inside the window.
// A window whose start minute is after its end minute wraps past midnight.
func inWindow(start, end string, now time.Time) (bool, error) {
	startMin, err := clockMinutes(start)
	if err != nil {
		return false, err
	}
	endMin, err := clockMinutes(end)
	if err != nil {
		return false, err
	}

	cur := now.Hour()*60 + now.Minute()

	if startMin > endMin {
		return cur >= startMin || cur <= endMin, nil
	}
	return cur >= startMin && cur <= endMin, nil
}

// clockMinutes parses "15:04" into minutes since midnight
func clockMinutes(clock string) (int, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock time %q", clock)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed clock time %q", clock)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed clock time %q", clock)
	}

	return hour*60 + minute, nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func intersects(allowed, actual []string) bool {
	for _, a := range actual {
		if containsFold(allowed, a) {
			return true
		}
	}
	return false
}
