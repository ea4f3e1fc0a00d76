package scanner

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/events"
	"github.com/aristath/signal-sentinel/internal/modules/patterns"
)

// scanTimeframe tags snapshot entries; the watchlist scan works on daily
// aggregates.
const scanTimeframe = "1d"

// QuoteSource fetches live quotes for a batch of symbols
type QuoteSource interface {
	FetchQuotes(symbols []string) ([]domain.Quote, error)
}

// UserSource lists the users whose opportunity sets the scan should feed
type UserSource interface {
	DistinctUserIDs() ([]string, error)
}

// OpportunitySink ingests qualifying scan results for one user
type OpportunitySink interface {
	Ingest(userID string, results []domain.ScanResult) error
}

// Service classifies the configured watchlist on a fixed cadence and
// holds the latest per-symbol snapshot in memory. Global alert rules
// match against the snapshot; qualifying results also feed opportunity
// tracking.
type Service struct {
	watchlist []string
	quotes    QuoteSource
	users     UserSource
	sink      OpportunitySink
	emitter   *events.Manager
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	snapshot []domain.ScanResult
}

// NewService creates a new scan service
func NewService(
	watchlist []string,
	quotes QuoteSource,
	users UserSource,
	sink OpportunitySink,
	emitter *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		watchlist: watchlist,
		quotes:    quotes,
		users:     users,
		sink:      sink,
		emitter:   emitter,
		log:       log.With().Str("service", "scanner").Logger(),
		now:       time.Now,
	}
}

// Name returns the job name
func (s *Service) Name() string { return "pattern_scan" }

// Run executes one scan pass: classify the watchlist, replace the
// snapshot, and feed the results into opportunity ingest for every user
// with enabled rules.
func (s *Service) Run() error {
	if len(s.watchlist) == 0 {
		s.log.Debug().Msg("Empty watchlist, nothing to scan")
		return nil
	}

	quotes, err := s.quotes.FetchQuotes(s.watchlist)
	if err != nil {
		return fmt.Errorf("scan quote fetch failed: %w", err)
	}

	now := s.now()
	results := make([]domain.ScanResult, 0, len(quotes))
	for _, q := range quotes {
		c := patterns.Classify(q)
		results = append(results, domain.ScanResult{
			Symbol:        q.Symbol,
			Stage:         c.Stage,
			Price:         q.Last,
			Resistance:    c.Resistance,
			StopLoss:      c.StopLoss,
			PriceFromHigh: c.PriceFromHigh,
			VolumeRatio:   c.VolumeRatio,
			Score:         Score(c),
			Strategy:      "BREAKOUT",
			Timeframe:     scanTimeframe,
			ScannedAt:     now,
		})
	}

	s.mu.Lock()
	s.snapshot = results
	s.mu.Unlock()

	s.feedOpportunities(results)

	if s.emitter != nil {
		s.emitter.Emit(events.ScanCompleted, "scanner", map[string]interface{}{
			"symbols": len(results),
		})
	}

	s.log.Debug().Int("symbols", len(results)).Msg("Scan snapshot replaced")
	return nil
}

// Latest returns the most recent scan snapshot
func (s *Service) Latest() []domain.ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScanResult, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// feedOpportunities ingests the scan results for every user with enabled
// rules. One user's ingest failure never affects the others.
func (s *Service) feedOpportunities(results []domain.ScanResult) {
	if s.users == nil || s.sink == nil {
		return
	}

	userIDs, err := s.users.DistinctUserIDs()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list users for opportunity ingest")
		return
	}

	for _, userID := range userIDs {
		if err := s.sink.Ingest(userID, results); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Opportunity ingest failed")
		}
	}
}

// Score grades a classification on a 0-100 scale: stage base plus bounded
// bonuses for unusual volume and proximity to the day high.
func Score(c domain.Classification) float64 {
	var base float64
	switch c.Stage {
	case domain.StageBreakout:
		base = 70
	case domain.StageReady:
		base = 50
	default:
		base = 30
	}

	volumeBonus := (c.VolumeRatio - 1) * 10
	if volumeBonus < 0 {
		volumeBonus = 0
	}
	if volumeBonus > 20 {
		volumeBonus = 20
	}

	proximityBonus := 10 - c.PriceFromHigh*2
	if proximityBonus < 0 {
		proximityBonus = 0
	}

	score := base + volumeBonus + proximityBonus
	if score > 100 {
		score = 100
	}
	return score
}
