package alerts

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/events"
	"github.com/aristath/signal-sentinel/internal/modules/patterns"
)

// QuoteSource fetches live quotes for a batch of symbols
type QuoteSource interface {
	FetchQuotes(symbols []string) ([]domain.Quote, error)
}

// ScanProvider returns the latest pattern-scan snapshot for global rules
type ScanProvider interface {
	Latest() []domain.ScanResult
}

// BreakoutRouter receives breakout-class transitions for automation
type BreakoutRouter interface {
	ResolveAndRecord(sig domain.SignalContext) (*domain.AutomationEvent, error)
}

// Engine is the polling job: it loads enabled rules every tick, evaluates
// them against fresh quotes (or the scan snapshot for global rules),
// persists at-most-once events and refreshes each rule's state snapshot.
type Engine struct {
	rules   *RuleRepository
	events  *EventRepository
	quotes  QuoteSource
	scans   ScanProvider
	router  BreakoutRouter
	emitter *events.Manager
	log     zerolog.Logger
	now     func() time.Time

	// Per-rule symbols already matched by a global rule, bucketed by
	// calendar day so yesterday's breakouts don't suppress today's.
	triggeredDay string
	triggered    map[string]map[string]bool
}

// NewEngine creates a new alert polling engine
func NewEngine(
	rules *RuleRepository,
	eventRepo *EventRepository,
	quotes QuoteSource,
	scans ScanProvider,
	router BreakoutRouter,
	emitter *events.Manager,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		rules:     rules,
		events:    eventRepo,
		quotes:    quotes,
		scans:     scans,
		router:    router,
		emitter:   emitter,
		log:       log.With().Str("job", "alert_poll").Logger(),
		now:       time.Now,
		triggered: make(map[string]map[string]bool),
	}
}

// Name returns the job name
func (e *Engine) Name() string { return "alert_poll" }

// Run executes one polling tick. A quote-source failure aborts the whole
// tick (every rule is deferred to the next tick, nothing is half-updated);
// a single rule's failure is logged and its siblings continue.
func (e *Engine) Run() error {
	rules, err := e.rules.ListEnabled()
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}

	var global, bound []domain.AlertRule
	for _, rule := range rules {
		if rule.Global {
			global = append(global, rule)
		} else {
			bound = append(bound, rule)
		}
	}

	if len(bound) > 0 {
		if err := e.pollSymbolRules(bound); err != nil {
			return err
		}
	}

	e.pollGlobalRules(global)

	return nil
}

// pollSymbolRules batch-fetches quotes for the distinct symbols referenced
// by symbol-bound rules and evaluates each rule against its quote.
func (e *Engine) pollSymbolRules(rules []domain.AlertRule) error {
	seen := make(map[string]bool)
	var symbols []string
	for _, rule := range rules {
		if !seen[rule.Symbol] {
			seen[rule.Symbol] = true
			symbols = append(symbols, rule.Symbol)
		}
	}

	quotes, err := e.quotes.FetchQuotes(symbols)
	if err != nil {
		// Tick-scoped failure: no rule state was touched yet, so skipping
		// the whole tick leaves everything consistent for the next one.
		return fmt.Errorf("quote fetch failed, tick skipped: %w", err)
	}

	bySymbol := make(map[string]domain.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}

	for i := range rules {
		rule := &rules[i]
		quote, ok := bySymbol[rule.Symbol]
		if !ok {
			e.log.Warn().Str("rule_id", rule.ID).Str("symbol", rule.Symbol).Msg("No quote for rule symbol")
			continue
		}

		if err := e.safeEvaluate(rule, quote); err != nil {
			e.log.Error().Err(err).Str("rule_id", rule.ID).Msg("Rule evaluation failed, skipping rule")
		}
	}

	return nil
}

// safeEvaluate isolates one rule's evaluation: a panic or error in a
// single rule never affects its siblings.
func (e *Engine) safeEvaluate(rule *domain.AlertRule, quote domain.Quote) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()

	c := patterns.Classify(quote)

	trigger, err := Evaluate(rule, quote, c)
	if err != nil {
		return err
	}

	if trigger != nil {
		if err := e.recordTrigger(rule, rule.Symbol, trigger); err != nil {
			return err
		}
	}

	// Unconditional replacement: hysteresis must track the latest
	// observation even when nothing triggered.
	state := domain.RuleState{
		Stage:       c.Stage,
		Price:       quote.Last,
		VolumeRatio: c.VolumeRatio,
		ObservedAt:  e.now(),
	}
	if err := e.rules.UpdateLastState(rule.ID, state); err != nil {
		return err
	}

	return nil
}

// recordTrigger persists an at-most-once event for the transition and
// routes breakout-class transitions to the automation resolver.
func (e *Engine) recordTrigger(rule *domain.AlertRule, symbol string, trigger *Trigger) error {
	day := domain.DayKey(e.now())
	key := EventKey(rule.ID, trigger.ToState, day)

	exists, err := e.events.ExistsByKey(key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	event := &domain.AlertEvent{
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		Symbol:        symbol,
		EventKey:      key,
		FromState:     trigger.FromState,
		ToState:       trigger.ToState,
		Price:         trigger.Price,
		PriceFromHigh: trigger.Classification.PriceFromHigh,
		VolumeRatio:   trigger.Classification.VolumeRatio,
		Resistance:    trigger.Classification.Resistance,
		StopLoss:      trigger.Classification.StopLoss,
		CreatedAt:     e.now(),
	}

	if err := e.events.Create(event); err != nil {
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.AlertTriggered, "alerts", map[string]interface{}{
			"rule_id":  rule.ID,
			"symbol":   symbol,
			"to_state": trigger.ToState,
			"price":    trigger.Price,
		})
	}

	e.routeBreakout(rule, event)
	return nil
}

// routeBreakout forwards breakout-class events to the guardrail resolver.
// Delivery problems downstream never roll back the persisted event.
func (e *Engine) routeBreakout(rule *domain.AlertRule, event *domain.AlertEvent) {
	if e.router == nil || event.ToState != string(domain.StageBreakout) {
		return
	}

	sig := domain.SignalContext{
		SourceID:    rule.ID,
		UserID:      rule.UserID,
		Symbol:      event.Symbol,
		Strategy:    "BREAKOUT",
		Price:       event.Price,
		TargetPrice: event.Resistance,
		StopLoss:    event.StopLoss,
		ProfileID:   rule.ProfileID,
	}

	if _, err := e.router.ResolveAndRecord(sig); err != nil {
		e.log.Error().Err(err).
			Str("rule_id", rule.ID).
			Str("symbol", event.Symbol).
			Msg("Automation resolution failed for breakout event")
	}
}

// pollGlobalRules matches global rules against the latest scan snapshot.
// Each matched symbol is recorded at most once per rule per day.
func (e *Engine) pollGlobalRules(rules []domain.AlertRule) {
	if len(rules) == 0 || e.scans == nil {
		return
	}

	snapshot := e.scans.Latest()
	if len(snapshot) == 0 {
		return
	}

	day := domain.DayKey(e.now())
	e.rollTriggeredDay(day)

	for i := range rules {
		rule := &rules[i]

		cond, ok := rule.Condition.(domain.StageEntered)
		if !ok {
			e.log.Warn().Str("rule_id", rule.ID).Msg("Global rule has non-stage condition, skipping")
			continue
		}

		for _, res := range snapshot {
			if res.Stage != cond.Stage {
				continue
			}
			if e.triggered[rule.ID][res.Symbol] {
				continue
			}

			if err := e.recordGlobalMatch(rule, cond, res, day); err != nil {
				e.log.Error().Err(err).
					Str("rule_id", rule.ID).
					Str("symbol", res.Symbol).
					Msg("Global rule match failed, skipping symbol")
				continue
			}

			if e.triggered[rule.ID] == nil {
				e.triggered[rule.ID] = make(map[string]bool)
			}
			e.triggered[rule.ID][res.Symbol] = true
		}
	}
}

func (e *Engine) recordGlobalMatch(rule *domain.AlertRule, cond domain.StageEntered, res domain.ScanResult, day string) error {
	key := GlobalEventKey(rule.ID, res.Symbol, string(cond.Stage), day)

	exists, err := e.events.ExistsByKey(key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	event := &domain.AlertEvent{
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		Symbol:        res.Symbol,
		EventKey:      key,
		FromState:     stateNone,
		ToState:       string(cond.Stage),
		Price:         res.Price,
		PriceFromHigh: res.PriceFromHigh,
		VolumeRatio:   res.VolumeRatio,
		Resistance:    res.Resistance,
		StopLoss:      res.StopLoss,
		CreatedAt:     e.now(),
	}

	if err := e.events.Create(event); err != nil {
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.AlertTriggered, "alerts", map[string]interface{}{
			"rule_id":  rule.ID,
			"symbol":   res.Symbol,
			"to_state": event.ToState,
			"global":   true,
		})
	}

	e.routeBreakout(rule, event)
	return nil
}

// rollTriggeredDay resets the per-rule triggered sets when the calendar
// day changes, so a symbol that broke out yesterday can alert again today.
func (e *Engine) rollTriggeredDay(day string) {
	if e.triggeredDay != day {
		e.triggeredDay = day
		e.triggered = make(map[string]map[string]bool)
	}
}
