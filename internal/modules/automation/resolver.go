package automation

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/events"
)

// Resolver turns signals into recorded automation decisions. Each signal
// is resolved at most once per day (idempotency key); passing signals are
// mapped through the profile's mode, and SEND decisions are delivered
// after the decision record is persisted.
type Resolver struct {
	profiles   *ProfileRepository
	events     *EventRepository
	guardrails *GuardrailChecker
	deliverer  Deliverer
	emitter    *events.Manager
	log        zerolog.Logger
	now        func() time.Time
}

// NewResolver creates a new guardrail resolver
func NewResolver(
	profiles *ProfileRepository,
	eventRepo *EventRepository,
	guardrails *GuardrailChecker,
	deliverer Deliverer,
	emitter *events.Manager,
	log zerolog.Logger,
) *Resolver {
	return &Resolver{
		profiles:   profiles,
		events:     eventRepo,
		guardrails: guardrails,
		deliverer:  deliverer,
		emitter:    emitter,
		log:        log.With().Str("service", "automation").Logger(),
		now:        time.Now,
	}
}

// ResolveAndRecord resolves one signal to a decision and persists it.
// Re-resolving the same signal on the same day returns the previously
// recorded decision unchanged. The "no profile" SKIP is the one decision
// that is returned without being persisted.
func (r *Resolver) ResolveAndRecord(sig domain.SignalContext) (*domain.AutomationEvent, error) {
	now := r.now()
	key := sig.IdempotencyKey(domain.DayKey(now))

	existing, err := r.events.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.log.Debug().
			Str("idempotency_key", key).
			Str("decision", string(existing.Decision)).
			Msg("Signal already resolved today, returning prior decision")
		return existing, nil
	}

	profile, err := r.selectProfile(sig)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return &domain.AutomationEvent{
			UserID:         sig.UserID,
			IdempotencyKey: key,
			Symbol:         sig.Symbol,
			Strategy:       sig.Strategy,
			Decision:       domain.DecisionSkip,
			Reason:         "no profile configured",
			Price:          sig.Price,
			TargetPrice:    sig.TargetPrice,
			StopLoss:       sig.StopLoss,
			Score:          sig.Score,
			CreatedAt:      now,
		}, nil
	}

	decision, reason, err := r.decide(profile, sig, now)
	if err != nil {
		return nil, err
	}

	event := &domain.AutomationEvent{
		UserID:         sig.UserID,
		ProfileID:      &profile.ID,
		IdempotencyKey: key,
		Symbol:         sig.Symbol,
		Strategy:       sig.Strategy,
		Decision:       decision,
		Reason:         reason,
		Price:          sig.Price,
		TargetPrice:    sig.TargetPrice,
		StopLoss:       sig.StopLoss,
		Score:          sig.Score,
		CreatedAt:      now,
	}

	if err := r.events.Create(event); err != nil {
		if errors.Is(err, errDuplicateKey) {
			// Lost the race to another tick; the winner's record stands.
			return r.events.GetByKey(key)
		}
		return nil, err
	}

	if r.emitter != nil {
		r.emitter.Emit(events.AutomationDecision, "automation", map[string]interface{}{
			"symbol":   event.Symbol,
			"strategy": event.Strategy,
			"decision": string(event.Decision),
			"reason":   event.Reason,
		})
	}

	if decision == domain.DecisionSend {
		r.deliver(event, profile.WebhookURL)
	}

	return event, nil
}

// decide maps the signal through the profile's mode and guardrails
func (r *Resolver) decide(profile *domain.AutomationProfile, sig domain.SignalContext, now time.Time) (domain.AutomationDecision, string, error) {
	if profile.Mode == domain.ModeOff {
		return domain.DecisionSkip, "profile mode is OFF", nil
	}

	reason, err := r.guardrails.Check(profile, sig, now)
	if err != nil {
		return "", "", err
	}
	if reason != "" {
		return domain.DecisionBlocked, reason, nil
	}

	switch profile.Mode {
	case domain.ModeNotifyOnly:
		return domain.DecisionSkip, "notify-only mode, delivery suppressed", nil
	case domain.ModeConfirm:
		return domain.DecisionQueue, "queued for manual approval", nil
	case domain.ModeAuto:
		return domain.DecisionSend, "all guardrails passed", nil
	}

	return "", "", fmt.Errorf("unknown automation mode: %s", profile.Mode)
}

/// selectProfile picks the profile for a signal: the explicitly bound one
// when it belongs to the user and is enabled, then the user's default,
// then the first enabled profile. The last hop is an implicit default, so
// it is logged every time it is taken.
func (r *Resolver) selectProfile(sig domain.SignalContext) (*domain.AutomationProfile, error) {
	if sig.ProfileID != nil {
		profile, err := r.profiles.GetByID(*sig.ProfileID)
		if err != nil {
			return nil, err
		}
		if profile != nil && profile.UserID == sig.UserID && profile.Enabled {
			return profile, nil
		}
		r.log.Warn().
			Str("profile_id", *sig.ProfileID).
			Str("user_id", sig.UserID).
			Msg("Bound profile unavailable, falling through to default")
	}

	profile, err := r.profiles.GetDefaultForUser(sig.UserID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	profile, err = r.profiles.FirstEnabledForUser(sig.UserID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		r.log.Warn().
			Str("user_id", sig.UserID).
			Str("profile_id", profile.ID).
			Str("fallback", "first_enabled").
			Msg("No default profile, falling back to first enabled profile")
	}
	return profile, nil
}

// deliver performs the outbound webhook call for a SEND decision. The
// decision is already persisted; delivery problems only update its sent
// status, never the decision itself.
func (r *Resolver) deliver(event *domain.AutomationEvent, webhookURL string) {
	payload := FormatEntry(event.Symbol, event.Price, event.TargetPrice, event.StopLoss)

	sent, deliveryErr := r.attempt(webhookURL, payload)

	event.Sent = sent
	event.DeliveryError = deliveryErr

	if err := r.events.MarkDelivery(event.ID, sent, deliveryErr); err != nil {
		r.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to record delivery status")
	}

	if !sent && r.emitter != nil {
		r.emitter.Emit(events.DeliveryFailed, "automation", map[string]interface{}{
			"event_id": event.ID,
			"symbol":   event.Symbol,
			"error":    stringValue(deliveryErr),
		})
	}
}

// attempt runs one delivery and folds transport and HTTP failures into a
// single optional error string.
func (r *Resolver) attempt(webhookURL, payload string) (bool, *string) {
	result, err := r.deliverer.Deliver(webhookURL, payload)
	if err != nil {
		msg := err.Error()
		r.log.Error().Err(err).Msg("Webhook delivery failed")
		return false, &msg
	}
	if !result.OK {
		msg := fmt.Sprintf("webhook returned %d: %s", result.StatusCode, result.Body)
		return false, &msg
	}
	return true, nil
}

// Approve delivers a queued decision and promotes it to SEND. This is the
// CONFIRM-mode completion path, driven by an explicit user action.
func (r *Resolver) Approve(eventID string) (*domain.AutomationEvent, error) {
	event, err := r.events.GetByID(eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("automation event not found: %s", eventID)
	}
	if event.Decision != domain.DecisionQueue {
		return nil, fmt.Errorf("event %s is not queued (decision %s)", eventID, event.Decision)
	}
	if event.ProfileID == nil {
		return nil, fmt.Errorf("event %s has no profile to deliver through", eventID)
	}

	profile, err := r.profiles.GetByID(*event.ProfileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("profile not found: %s", *event.ProfileID)
	}

	payload := FormatEntry(event.Symbol, event.Price, event.TargetPrice, event.StopLoss)
	sent, deliveryErr := r.attempt(profile.WebhookURL, payload)

	if err := r.events.MarkApproved(event.ID, sent, deliveryErr); err != nil {
		return nil, err
	}

	return r.events.GetByID(event.ID)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
