package alerts

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signal-sentinel/internal/database"
	"github.com/aristath/signal-sentinel/internal/domain"
)

// newTestDB creates a temporary migrated database
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_alerts_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	require.NoError(t, tmpFile.Close())

	db, err := database.New(tmpPath)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	})

	return db
}

type fakeQuoteSource struct {
	quotes map[string]domain.Quote
	err    error
}

func (f *fakeQuoteSource) FetchQuotes(symbols []string) ([]domain.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Quote
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeScanProvider struct {
	results []domain.ScanResult
}

func (f *fakeScanProvider) Latest() []domain.ScanResult { return f.results }

type fakeRouter struct {
	signals []domain.SignalContext
}

func (f *fakeRouter) ResolveAndRecord(sig domain.SignalContext) (*domain.AutomationEvent, error) {
	f.signals = append(f.signals, sig)
	return &domain.AutomationEvent{Decision: domain.DecisionSkip}, nil
}

func newTestEngine(t *testing.T, db *database.DB, quotes QuoteSource, scans ScanProvider, router BreakoutRouter) (*Engine, *RuleRepository, *EventRepository) {
	t.Helper()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	ruleRepo := NewRuleRepository(db.Conn(), log)
	eventRepo := NewEventRepository(db.Conn(), log)

	return NewEngine(ruleRepo, eventRepo, quotes, scans, router, nil, log), ruleRepo, eventRepo
}

func TestEngine_TriggerPersistsEventOncePerDay(t *testing.T) {
	db := newTestDB(t)

	source := &fakeQuoteSource{quotes: map[string]domain.Quote{
		"AAPL": breakoutQuote("AAPL"),
	}}
	engine, ruleRepo, eventRepo := newTestEngine(t, db, source, nil, nil)

	rule := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "AAPL",
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(rule))

	require.NoError(t, engine.Run())

	events, err := eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(domain.StageBreakout), events[0].ToState)
	assert.Equal(t, "AAPL", events[0].Symbol)

	// Last state was replaced with the fresh observation.
	stored, err := ruleRepo.GetByID(rule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastState)
	assert.Equal(t, domain.StageBreakout, stored.LastState.Stage)

	// Second tick against an unchanged quote: edge already consumed.
	require.NoError(t, engine.Run())

	events, err = eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEngine_QuoteFetchFailureAbortsTick(t *testing.T) {
	db := newTestDB(t)

	source := &fakeQuoteSource{err: fmt.Errorf("feed unavailable")}
	engine, ruleRepo, eventRepo := newTestEngine(t, db, source, nil, nil)

	rule := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "AAPL",
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(rule))

	err := engine.Run()
	require.Error(t, err)

	// Nothing recorded, nothing half-updated.
	events, err := eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	stored, err := ruleRepo.GetByID(rule.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastState)
}

func TestEngine_BreakoutRoutedToAutomation(t *testing.T) {
	db := newTestDB(t)

	source := &fakeQuoteSource{quotes: map[string]domain.Quote{
		"AAPL": breakoutQuote("AAPL"),
		"MSFT": {Symbol: "MSFT", Last: 151, High: 152, Change: 2, ChangePercent: 1.3, Volume: 1, AvgVolume: 1},
	}}
	router := &fakeRouter{}
	engine, ruleRepo, _ := newTestEngine(t, db, source, nil, router)

	profileID := "p1"
	breakoutRule := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "AAPL",
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
		ProfileID: &profileID,
	}
	require.NoError(t, ruleRepo.Create(breakoutRule))

	// Price crossings are alert-only: they never reach automation.
	priceRule := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "MSFT",
		Condition: domain.PriceAbove{Threshold: 150},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(priceRule))

	require.NoError(t, engine.Run())

	require.Len(t, router.signals, 1)
	sig := router.signals[0]
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, breakoutRule.ID, sig.SourceID)
	assert.Equal(t, "BREAKOUT", sig.Strategy)
	require.NotNil(t, sig.ProfileID)
	assert.Equal(t, "p1", *sig.ProfileID)
}

func TestEngine_RuleFaultIsolation(t *testing.T) {
	db := newTestDB(t)

	source := &fakeQuoteSource{quotes: map[string]domain.Quote{
		"AAPL": breakoutQuote("AAPL"),
		"MSFT": breakoutQuote("MSFT"),
	}}
	engine, ruleRepo, eventRepo := newTestEngine(t, db, source, nil, nil)

	good := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "MSFT",
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(good))

	bad := &domain.AlertRule{
		UserID:    "u1",
		Symbol:    "AAPL",
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(bad))

	// Corrupt one rule's stored payload behind the repository's back.
	_, err := db.Conn().Exec("UPDATE alert_rules SET condition_payload = ? WHERE id = ?", "{not json", bad.ID)
	require.NoError(t, err)

	require.NoError(t, engine.Run())

	// The corrupt rule was skipped; its sibling still produced its event.
	events, err := eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "MSFT", events[0].Symbol)
}

func TestEngine_GlobalRuleMatchesSnapshotOncePerDay(t *testing.T) {
	db := newTestDB(t)

	scans := &fakeScanProvider{results: []domain.ScanResult{
		{Symbol: "NVDA", Stage: domain.StageBreakout, Price: 500, Resistance: 510, StopLoss: 465, ScannedAt: time.Now()},
		{Symbol: "AMD", Stage: domain.StageReady, Price: 100, Resistance: 102, StopLoss: 93, ScannedAt: time.Now()},
	}}
	router := &fakeRouter{}
	engine, ruleRepo, eventRepo := newTestEngine(t, db, &fakeQuoteSource{}, scans, router)

	rule := &domain.AlertRule{
		UserID:    "u1",
		Global:    true,
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(rule))

	require.NoError(t, engine.Run())
	require.NoError(t, engine.Run())

	// Only the breakout-stage symbol matched, and only once.
	events, err := eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NVDA", events[0].Symbol)

	// Matched breakout was routed to automation once.
	assert.Len(t, router.signals, 1)
}

func TestEngine_GlobalTriggeredSetResetsAcrossDays(t *testing.T) {
	db := newTestDB(t)

	scans := &fakeScanProvider{results: []domain.ScanResult{
		{Symbol: "NVDA", Stage: domain.StageBreakout, Price: 500, Resistance: 510, StopLoss: 465, ScannedAt: time.Now()},
	}}
	engine, ruleRepo, eventRepo := newTestEngine(t, db, &fakeQuoteSource{}, scans, nil)

	rule := &domain.AlertRule{
		UserID:    "u1",
		Global:    true,
		Condition: domain.StageEntered{Stage: domain.StageBreakout},
		Enabled:   true,
	}
	require.NoError(t, ruleRepo.Create(rule))

	day1 := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return day1 }
	require.NoError(t, engine.Run())

	// Next trading day: the triggered set ages out and the symbol alerts
	// again under a fresh day-scoped event key.
	day2 := day1.Add(24 * time.Hour)
	engine.now = func() time.Time { return day2 }
	require.NoError(t, engine.Run())

	events, err := eventRepo.ListByUser("u1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
