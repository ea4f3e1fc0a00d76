package opportunities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/events"
)

// resistanceBuffer is the small margin above resistance a tracked max must
// clear before the breakout counts as confirmed.
const resistanceBuffer = 1.001

// expirationWindows maps a timeframe to how long an opportunity stays
// ACTIVE before it expires. Intraday setups get a day; daily setups get
// two weeks (about ten trading days).
var expirationWindows = map[string]time.Duration{
	"1m":  24 * time.Hour,
	"5m":  24 * time.Hour,
	"15m": 24 * time.Hour,
	"30m": 24 * time.Hour,
	"1h":  24 * time.Hour,
	"1d":  14 * 24 * time.Hour,
}

const defaultExpiration = 14 * 24 * time.Hour

// Tracker ingests qualifying scan detections as tracked opportunities,
// refreshes their price excursions, and resolves them to terminal outcomes.
type Tracker struct {
	repo    *Repository
	emitter *events.Manager
	log     zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a new opportunity tracker
func NewTracker(repo *Repository, emitter *events.Manager, log zerolog.Logger) *Tracker {
	return &Tracker{
		repo:    repo,
		emitter: emitter,
		log:     log.With().Str("service", "opportunities").Logger(),
		now:     time.Now,
	}
}

// Ingest creates opportunities for qualifying scan results and, in the
// same pass, refreshes the user's ACTIVE set against the batch prices.
// Two qualifying detections of the same setup within one clock hour
// collapse into one record via the dedupe key.
func (t *Tracker) Ingest(userID string, results []domain.ScanResult) error {
	now := t.now()

	prices := make(map[string]float64, len(results))
	created := make(map[string]bool)
	for _, res := range results {
		prices[res.Symbol] = res.Price

		if !res.Stage.IsValid() {
			continue
		}

		id, err := t.ingestOne(userID, res, now)
		if err != nil {
			t.log.Error().Err(err).
				Str("symbol", res.Symbol).
				Msg("Opportunity ingest failed, skipping result")
			continue
		}
		if id != "" {
			created[id] = true
		}
	}

	return t.refreshActive(userID, prices, created)
}

// ingestOne creates one opportunity if its dedupe bucket is free,
// returning the new ID, or "" when the bucket was already covered.
func (t *Tracker) ingestOne(userID string, res domain.ScanResult, now time.Time) (string, error) {
	key := domain.OpportunityDedupeKey(userID, res.Symbol, res.Strategy, res.Timeframe, now)

	exists, err := t.repo.ExistsByDedupeKey(key)
	if err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}

	opp := &domain.Opportunity{
		UserID:         userID,
		Symbol:         res.Symbol,
		Strategy:       res.Strategy,
		Timeframe:      res.Timeframe,
		DedupeKey:      key,
		DetectedAt:     now,
		DetectionPrice: res.Price,
		Resistance:     res.Resistance,
		StopLoss:       res.StopLoss,
		Score:          res.Score,
		MaxPriceAfter:  res.Price,
		MinPriceAfter:  res.Price,
		Status:         domain.OpportunityActive,
	}

	if err := t.repo.Create(opp); err != nil {
		if errors.Is(err, errDuplicateDedupeKey) {
			// Lost the race to a parallel ingest; the bucket is covered.
			return "", nil
		}
		return "", err
	}

	if t.emitter != nil {
		t.emitter.Emit(events.OpportunityCreated, "opportunities", map[string]interface{}{
			"opportunity_id": opp.ID,
			"symbol":         opp.Symbol,
			"strategy":       opp.Strategy,
			"price":          opp.DetectionPrice,
		})
	}

	return opp.ID, nil
}

// refreshActive bumps tracking counters for every ACTIVE opportunity that
// has a price in the batch. Opportunities created in this same pass are
// excluded: their first tracked bar is the next batch.
func (t *Tracker) refreshActive(userID string, prices map[string]float64, created map[string]bool) error {
	active, err := t.repo.ListActiveByUser(userID)
	if err != nil {
		return fmt.Errorf("failed to load active opportunities: %w", err)
	}

	for i := range active {
		opp := &active[i]
		if created[opp.ID] {
			continue
		}
		price, ok := prices[opp.Symbol]
		if !ok {
			continue
		}

		opp.BarsTracked++
		if price > opp.MaxPriceAfter {
			opp.MaxPriceAfter = price
			opp.FavorableMovePct = movePct(opp.DetectionPrice, price)
		}
		if price < opp.MinPriceAfter {
			opp.MinPriceAfter = price
			opp.AdverseMovePct = movePct(opp.DetectionPrice, price)
		}

		if err := t.repo.UpdateTracking(opp); err != nil {
			t.log.Error().Err(err).
				Str("opportunity_id", opp.ID).
				Msg("Failed to update opportunity tracking")
		}
	}

	return nil
}

// ResolveOutcomes walks every ACTIVE opportunity and resolves those that
// hit a terminal condition. Candidates are checked in fixed priority
// order: broke resistance, then invalidated, then expired. First match
// wins, so a setup that both cleared resistance and later hit its stop
// still counts as a breakout.
func (t *Tracker) ResolveOutcomes() error {
	active, err := t.repo.ListActive()
	if err != nil {
		return fmt.Errorf("failed to load active opportunities: %w", err)
	}

	now := t.now()
	resolved := 0

	for i := range active {
		opp := &active[i]

		outcome, reason := t.outcomeFor(opp, now)
		if outcome == "" {
			continue
		}

		activeMinutes := int(now.Sub(opp.DetectedAt).Minutes())
		if err := t.repo.Resolve(opp.ID, outcome, reason, activeMinutes, now); err != nil {
			t.log.Error().Err(err).
				Str("opportunity_id", opp.ID).
				Msg("Failed to resolve opportunity")
			continue
		}
		resolved++

		if t.emitter != nil {
			t.emitter.Emit(events.OpportunityResolved, "opportunities", map[string]interface{}{
				"opportunity_id": opp.ID,
				"symbol":         opp.Symbol,
				"outcome":        string(outcome),
				"reason":         reason,
			})
		}
	}

	if resolved > 0 {
		t.log.Info().Int("resolved", resolved).Int("active", len(active)).Msg("Opportunity resolution pass complete")
	}

	return nil
}

// outcomeFor returns the terminal outcome for an opportunity, or "" when
// it stays ACTIVE.
func (t *Tracker) outcomeFor(opp *domain.Opportunity, now time.Time) (domain.OpportunityOutcome, string) {
	if opp.MaxPriceAfter >= opp.Resistance*resistanceBuffer {
		return domain.OutcomeBrokeResistance,
			fmt.Sprintf("max price %.2f cleared resistance %.2f", opp.MaxPriceAfter, opp.Resistance)
	}

	if opp.MinPriceAfter <= opp.StopLoss {
		return domain.OutcomeInvalidated,
			fmt.Sprintf("min price %.2f hit stop %.2f", opp.MinPriceAfter, opp.StopLoss)
	}

	if now.Sub(opp.DetectedAt) > expirationFor(opp.Timeframe) {
		return domain.OutcomeExpired,
			fmt.Sprintf("no resolution within %s window", opp.Timeframe)
	}

	return "", ""
}

func expirationFor(timeframe string) time.Duration {
	if window, ok := expirationWindows[strings.ToLower(timeframe)]; ok {
		return window
	}
	return defaultExpiration
}

// movePct is the percent move from the detection price
func movePct(detection, price float64) float64 {
	if detection == 0 {
		return 0
	}
	return (price - detection) / detection * 100
}

// ResolveJob runs the resolution pass on its own cadence, independent of
// scan ingest.
type ResolveJob struct {
	tracker *Tracker
}

// NewResolveJob creates the opportunity resolution job
func NewResolveJob(tracker *Tracker) *ResolveJob {
	return &ResolveJob{tracker: tracker}
}

// Name returns the job name
func (j *ResolveJob) Name() string { return "opportunity_resolve" }

// Run executes one resolution pass
func (j *ResolveJob) Run() error {
	return j.tracker.ResolveOutcomes()
}
