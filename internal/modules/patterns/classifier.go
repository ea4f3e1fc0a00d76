package patterns

import "github.com/aristath/signal-sentinel/internal/domain"

// Stage thresholds and derived-level bands. Fixed heuristics, not fitted.
const (
	breakoutMinChangePct  = 2.0
	breakoutMinVolumeRate = 1.5
	readyMaxPctFromHigh   = 5.0
	resistanceBand        = 1.02
	stopLossBand          = 0.93
)

// Classify derives a pattern classification from a quote. Pure and total:
// identical input always yields an identical classification.
func Classify(q domain.Quote) domain.Classification {
	priceFromHigh := 0.0
	if q.High > 0 {
		priceFromHigh = (q.High - q.Last) / q.High * 100
	}

	volumeRatio := 1.0
	if q.AvgVolume > 0 {
		volumeRatio = q.Volume / q.AvgVolume
	}

	// Stage decision, strictest first: a breakout is also "near the high",
	// so the order of these checks is load-bearing.
	stage := domain.StageForming
	switch {
	case q.Change > 0 && q.ChangePercent > breakoutMinChangePct && volumeRatio > breakoutMinVolumeRate:
		stage = domain.StageBreakout
	case priceFromHigh < readyMaxPctFromHigh && q.Change > 0:
		stage = domain.StageReady
	}

	return domain.Classification{
		Stage:         stage,
		PriceFromHigh: priceFromHigh,
		VolumeRatio:   volumeRatio,
		Resistance:    q.High * resistanceBand,
		StopLoss:      q.Last * stopLossBand,
	}
}
