package domain

import (
	"fmt"
	"time"
)

// Stage represents a pattern's lifecycle position derived from price/volume
type Stage string

const (
	StageForming  Stage = "FORMING"
	StageReady    Stage = "READY"
	StageBreakout Stage = "BREAKOUT"
)

// IsValid reports whether the stage is one of the known values
func (s Stage) IsValid() bool {
	switch s {
	case StageForming, StageReady, StageBreakout:
		return true
	}
	return false
}

// Quote is a point-in-time market snapshot for one symbol.
// Supplied per poll, never persisted.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Last          float64 `json:"last"`
	High          float64 `json:"high"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	AvgVolume     float64 `json:"avg_volume"`
}

// Classification is the derived pattern read of a quote
type Classification struct {
	Stage         Stage   `json:"stage"`
	PriceFromHigh float64 `json:"price_from_high"` // percent below day high
	VolumeRatio   float64 `json:"volume_ratio"`
	Resistance    float64 `json:"resistance"`
	StopLoss      float64 `json:"stop_loss"`
}

// RuleState is the last observed snapshot for a rule. It is the only
// mutable memory the evaluator has: replaced wholesale after every
// evaluation tick, never merged.
type RuleState struct {
	Stage       Stage     `json:"stage"`
	Price       float64   `json:"price"`
	VolumeRatio float64   `json:"volume_ratio"`
	ObservedAt  time.Time `json:"observed_at"`
}

// AlertRule is a user-defined alert condition bound to a symbol, or to
// the whole scan snapshot when Global is set.
type AlertRule struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Symbol    string     `json:"symbol,omitempty"`
	Global    bool       `json:"global"`
	Condition Condition  `json:"condition"`
	Enabled   bool       `json:"enabled"`
	ProfileID *string    `json:"profile_id,omitempty"`
	LastState *RuleState `json:"last_state,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks rule fields at the creation/update boundary
func (r *AlertRule) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("rule user_id is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("rule condition is required")
	}
	if r.Global {
		// Global rules match the scan snapshot by stage; other condition
		// kinds have no per-symbol quote to evaluate against.
		if _, ok := r.Condition.(StageEntered); !ok {
			return fmt.Errorf("global rules require a %s condition", KindStageEntered)
		}
	} else if r.Symbol == "" {
		return fmt.Errorf("rule symbol is required unless global")
	}
	return nil
}

// AlertEvent is an immutable record of one detected transition
type AlertEvent struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	EventKey      string    `json:"event_key"`
	FromState     string    `json:"from_state"`
	ToState       string    `json:"to_state"`
	Price         float64   `json:"price"`
	PriceFromHigh float64   `json:"price_from_high"`
	VolumeRatio   float64   `json:"volume_ratio"`
	Resistance    float64   `json:"resistance"`
	StopLoss      float64   `json:"stop_loss"`
	CreatedAt     time.Time `json:"created_at"`
}

// AutomationMode controls what happens when a signal passes all guardrails
type AutomationMode string

const (
	ModeOff        AutomationMode = "OFF"
	ModeNotifyOnly AutomationMode = "NOTIFY_ONLY"
	ModeConfirm    AutomationMode = "CONFIRM"
	ModeAuto       AutomationMode = "AUTO"
)

// IsValid reports whether the mode is one of the known values
func (m AutomationMode) IsValid() bool {
	switch m {
	case ModeOff, ModeNotifyOnly, ModeConfirm, ModeAuto:
		return true
	}
	return false
}

// Guardrails are optional restrictions on automated delivery.
// A zero/nil field means "no restriction from this field".
type Guardrails struct {
	MinScore          *float64 `json:"min_score,omitempty"`
	AllowedStrategies []string `json:"allowed_strategies,omitempty"`
	AllowedSymbols    []string `json:"allowed_symbols,omitempty"`
	AllowedWatchlists []string `json:"allowed_watchlists,omitempty"`
	WindowStart       *string  `json:"window_start,omitempty"` // "15:04" clock time
	WindowEnd         *string  `json:"window_end,omitempty"`   // may wrap past midnight
	MaxPerDay         *int     `json:"max_per_day,omitempty"`
	CooldownMinutes   *int     `json:"cooldown_minutes,omitempty"`
}

// AutomationProfile is a user-owned webhook destination with guardrails
type AutomationProfile struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Name       string         `json:"name"`
	WebhookURL string         `json:"webhook_url"` // decrypted in memory only
	Mode       AutomationMode `json:"mode"`
	Enabled    bool           `json:"enabled"`
	IsDefault  bool           `json:"is_default"`
	Guardrails Guardrails     `json:"guardrails"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks profile fields at the creation/update boundary
func (p *AutomationProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("profile user_id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if !p.Mode.IsValid() {
		return fmt.Errorf("invalid automation mode: %s", p.Mode)
	}
	if p.Mode != ModeOff && p.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required unless mode is OFF")
	}
	if (p.Guardrails.WindowStart == nil) != (p.Guardrails.WindowEnd == nil) {
		return fmt.Errorf("time window requires both window_start and window_end")
	}
	return nil
}

// AutomationDecision is the outcome of a guardrail resolution
type AutomationDecision string

const (
	DecisionSend    AutomationDecision = "SEND"
	DecisionQueue   AutomationDecision = "QUEUE"
	DecisionSkip    AutomationDecision = "SKIP"
	DecisionBlocked AutomationDecision = "BLOCKED"
)

// AutomationEvent is an immutable record of one automation decision
type AutomationEvent struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	ProfileID      *string            `json:"profile_id,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
	Symbol         string             `json:"symbol"`
	Strategy       string             `json:"strategy"`
	Decision       AutomationDecision `json:"decision"`
	Reason         string             `json:"reason"`
	Price          float64            `json:"price"`
	TargetPrice    float64            `json:"target_price"`
	StopLoss       float64            `json:"stop_loss"`
	Score          *float64           `json:"score,omitempty"`
	Sent           bool               `json:"sent"`
	DeliveryError  *string            `json:"delivery_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// SignalContext carries everything the guardrail resolver needs to decide
// on one signal.
type SignalContext struct {
	SourceID    string   // originating rule or scan identity
	UserID      string
	Symbol      string
	Strategy    string
	Price       float64
	TargetPrice float64
	StopLoss    float64
	Score       *float64
	Watchlists  []string // watchlists the symbol belongs to, if known
	ProfileID   *string  // explicitly bound profile, if any
}

// IdempotencyKey builds the at-most-once-per-day key for this signal
func (s SignalContext) IdempotencyKey(day string) string {
	return fmt.Sprintf("%s|%s|%s|%s", s.SourceID, s.Symbol, s.Strategy, day)
}

// OpportunityStatus is the lifecycle state of a tracked opportunity
type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "ACTIVE"
	OpportunityResolved OpportunityStatus = "RESOLVED"
)

// OpportunityOutcome is the terminal outcome of a resolved opportunity
type OpportunityOutcome string

const (
	OutcomeBrokeResistance OpportunityOutcome = "BROKE_RESISTANCE"
	OutcomeInvalidated     OpportunityOutcome = "INVALIDATED"
	OutcomeExpired         OpportunityOutcome = "EXPIRED"
)

// Opportunity is one tracked instance of a detected setup, followed from
// detection until it resolves to a terminal outcome.
type Opportunity struct {
	ID               string              `json:"id"`
	UserID           string              `json:"user_id"`
	Symbol           string              `json:"symbol"`
	Strategy         string              `json:"strategy"`
	Timeframe        string              `json:"timeframe"`
	DedupeKey        string              `json:"dedupe_key"`
	DetectedAt       time.Time           `json:"detected_at"`
	DetectionPrice   float64             `json:"detection_price"`
	Resistance       float64             `json:"resistance"`
	StopLoss         float64             `json:"stop_loss"`
	Score            float64             `json:"score"`
	MaxPriceAfter    float64             `json:"max_price_after"`
	MinPriceAfter    float64             `json:"min_price_after"`
	FavorableMovePct float64             `json:"favorable_move_pct"`
	AdverseMovePct   float64             `json:"adverse_move_pct"`
	BarsTracked      int                 `json:"bars_tracked"`
	Status           OpportunityStatus   `json:"status"`
	Outcome          *OpportunityOutcome `json:"outcome,omitempty"`
	ResolutionReason *string             `json:"resolution_reason,omitempty"`
	ActiveMinutes    *int                `json:"active_minutes,omitempty"`
	ResolvedAt       *time.Time          `json:"resolved_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// OpportunityDedupeKey collapses qualifying detections of the same setup
// within the same clock hour into one tracked record.
func OpportunityDedupeKey(userID, symbol, strategy, timeframe string, detectedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", userID, symbol, strategy, timeframe, detectedAt.UTC().Format("2006-01-02T15"))
}

// ScanResult is one symbol's entry in the latest pattern-scan snapshot
type ScanResult struct {
	Symbol        string    `json:"symbol"`
	Stage         Stage     `json:"stage"`
	Price         float64   `json:"price"`
	Resistance    float64   `json:"resistance"`
	StopLoss      float64   `json:"stop_loss"`
	PriceFromHigh float64   `json:"price_from_high"`
	VolumeRatio   float64   `json:"volume_ratio"`
	Score         float64   `json:"score"`
	Strategy      string    `json:"strategy"`
	Timeframe     string    `json:"timeframe"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// DayKey formats a timestamp as the calendar-day bucket used by event keys
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
