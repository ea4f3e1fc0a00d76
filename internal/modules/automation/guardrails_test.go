package automation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signal-sentinel/internal/domain"
)

type fakeHistory struct {
	sentToday int
	lastSent  *domain.AutomationEvent
}

func (f *fakeHistory) CountSentToday(string, time.Time) (int, error) {
	return f.sentToday, nil
}

func (f *fakeHistory) LastSentForSymbol(string, string) (*domain.AutomationEvent, error) {
	return f.lastSent, nil
}

func newChecker(history SendHistory) *GuardrailChecker {
	return NewGuardrailChecker(history, zerolog.New(nil).Level(zerolog.Disabled))
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func strPtr(s string) *string     { return &s }

func TestCheck_ScoreCheckedBeforeStrategy(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID: "p1",
		Guardrails: domain.Guardrails{
			MinScore:          floatPtr(70),
			AllowedStrategies: []string{"VCP"},
		},
	}

	// Both guardrails fail; the reported reason must be the score's,
	// because it is checked first.
	sig := domain.SignalContext{Symbol: "AAPL", Strategy: "GAP_AND_GO", Score: floatPtr(65)}

	reason, err := checker.Check(profile, sig, time.Now())
	require.NoError(t, err)
	assert.Contains(t, reason, "score")
	assert.NotContains(t, reason, "strategy")
}

func TestCheck_MissingScoreFailsMinScore(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID:         "p1",
		Guardrails: domain.Guardrails{MinScore: floatPtr(50)},
	}

	reason, err := checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, reason, "score")
}

func TestCheck_StrategyAndSymbolAllowLists(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID: "p1",
		Guardrails: domain.Guardrails{
			AllowedStrategies: []string{"BREAKOUT"},
			AllowedSymbols:    []string{"AAPL", "MSFT"},
		},
	}

	reason, err := checker.Check(profile, domain.SignalContext{Symbol: "AAPL", Strategy: "BREAKOUT"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = checker.Check(profile, domain.SignalContext{Symbol: "TSLA", Strategy: "BREAKOUT"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, reason, "symbol TSLA")
}

func TestCheck_WatchlistIntersection(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID:         "p1",
		Guardrails: domain.Guardrails{AllowedWatchlists: []string{"momentum"}},
	}

	reason, err := checker.Check(profile, domain.SignalContext{
		Symbol:     "AAPL",
		Watchlists: []string{"tech", "momentum"},
	}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = checker.Check(profile, domain.SignalContext{
		Symbol:     "AAPL",
		Watchlists: []string{"tech"},
	}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, reason, "watchlist")
}

func TestCheck_TimeWindowWraparound(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID: "p1",
		Guardrails: domain.Guardrails{
			WindowStart: strPtr("22:00"),
			WindowEnd:   strPtr("02:00"),
		},
	}
	sig := domain.SignalContext{Symbol: "AAPL"}

	at := func(hour, minute int) time.Time {
		return time.Date(2024, 3, 11, hour, minute, 0, 0, time.UTC)
	}

	reason, err := checker.Check(profile, sig, at(23, 30))
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = checker.Check(profile, sig, at(1, 0))
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = checker.Check(profile, sig, at(12, 0))
	require.NoError(t, err)
	assert.Contains(t, reason, "window")
}

func TestCheck_SameDayWindow(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{
		ID: "p1",
		Guardrails: domain.Guardrails{
			WindowStart: strPtr("09:30"),
			WindowEnd:   strPtr("16:00"),
		},
	}
	sig := domain.SignalContext{Symbol: "AAPL"}

	reason, err := checker.Check(profile, sig, time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = checker.Check(profile, sig, time.Date(2024, 3, 11, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, reason, "window")
}

func TestCheck_DailyLimit(t *testing.T) {
	history := &fakeHistory{sentToday: 3}
	checker := newChecker(history)
	profile := &domain.AutomationProfile{
		ID:         "p1",
		Guardrails: domain.Guardrails{MaxPerDay: intPtr(3)},
	}

	reason, err := checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, reason, "daily limit")

	history.sentToday = 2
	reason, err = checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestCheck_Cooldown(t *testing.T) {
	now := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)
	history := &fakeHistory{
		lastSent: &domain.AutomationEvent{Symbol: "AAPL", CreatedAt: now.Add(-10 * time.Minute)},
	}
	checker := newChecker(history)
	profile := &domain.AutomationProfile{
		ID:         "p1",
		Guardrails: domain.Guardrails{CooldownMinutes: intPtr(30)},
	}

	reason, err := checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, now)
	require.NoError(t, err)
	assert.Contains(t, reason, "cooldown")

	// Cooldown elapsed.
	history.lastSent.CreatedAt = now.Add(-45 * time.Minute)
	reason, err = checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, now)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestCheck_NoGuardrailsPasses(t *testing.T) {
	checker := newChecker(&fakeHistory{})
	profile := &domain.AutomationProfile{ID: "p1"}

	reason, err := checker.Check(profile, domain.SignalContext{Symbol: "AAPL"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, reason)
}
