package automation

import (
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signal-sentinel/internal/database"
	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/secrets"
)

// newTestDB creates a temporary migrated database
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_automation_*.db")
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

type fakeDeliverer struct {
	urls     []string
	payloads []string
	result   DeliveryResult
	err      error
}

func (f *fakeDeliverer) Deliver(url, payload string) (DeliveryResult, error) {
	f.urls = append(f.urls, url)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return DeliveryResult{}, f.err
	}
	return f.result, nil
}

func okDeliverer() *fakeDeliverer {
	return &fakeDeliverer{result: DeliveryResult{OK: true, StatusCode: 200}}
}

func newTestResolver(t *testing.T, db *database.DB, deliverer Deliverer) (*Resolver, *ProfileRepository, *EventRepository) {
	t.Helper()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	profiles := NewProfileRepository(db.Conn(), secrets.Plaintext{}, log)
	eventRepo := NewEventRepository(db.Conn(), log)
	checker := NewGuardrailChecker(eventRepo, log)

	return NewResolver(profiles, eventRepo, checker, deliverer, nil, log), profiles, eventRepo
}

func autoProfile(userID string) *domain.AutomationProfile {
	return &domain.AutomationProfile{
		UserID:     userID,
		Name:       "auto",
		WebhookURL: "https://hooks.example.com/x",
		Mode:       domain.ModeAuto,
		Enabled:    true,
		IsDefault:  true,
	}
}

func breakoutSignal(userID string) domain.SignalContext {
	return domain.SignalContext{
		SourceID:    "rule-1",
		UserID:      userID,
		Symbol:      "AAPL",
		Strategy:    "BREAKOUT",
		Price:       100,
		TargetPrice: 104.04,
		StopLoss:    93,
	}
}

func TestResolveAndRecord_AutoModeSendsAndPersists(t *testing.T) {
	db := newTestDB(t)
	deliverer := okDeliverer()
	resolver, profiles, eventRepo := newTestResolver(t, db, deliverer)

	require.NoError(t, profiles.Create(autoProfile("u1")))

	event, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSend, event.Decision)
	assert.True(t, event.Sent)
	assert.Nil(t, event.DeliveryError)

	require.Len(t, deliverer.payloads, 1)
	assert.Equal(t, "enter sym=AAPL lp=100.00 tp=104.04 sl=93.00", deliverer.payloads[0])
	assert.Equal(t, "https://hooks.example.com/x", deliverer.urls[0])

	stored, err := eventRepo.GetByKey(event.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Sent)
}

func TestResolveAndRecord_IdempotentPerDay(t *testing.T) {
	db := newTestDB(t)
	deliverer := okDeliverer()
	resolver, profiles, _ := newTestResolver(t, db, deliverer)

	require.NoError(t, profiles.Create(autoProfile("u1")))

	first, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)

	second, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)

	// Same record, and only one delivery ever happened.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Len(t, deliverer.payloads, 1)
}

func TestResolveAndRecord_NoProfileSkipNotPersisted(t *testing.T) {
	db := newTestDB(t)
	resolver, _, eventRepo := newTestResolver(t, db, okDeliverer())

	event, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, event.Decision)
	assert.Equal(t, "no profile configured", event.Reason)

	stored, err := eventRepo.GetByKey(event.IdempotencyKey)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestResolveAndRecord_ModeMapping(t *testing.T) {
	cases := []struct {
		mode     domain.AutomationMode
		decision domain.AutomationDecision
	}{
		{domain.ModeOff, domain.DecisionSkip},
		{domain.ModeNotifyOnly, domain.DecisionSkip},
		{domain.ModeConfirm, domain.DecisionQueue},
		{domain.ModeAuto, domain.DecisionSend},
	}

	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			db := newTestDB(t)
			deliverer := okDeliverer()
			resolver, profiles, _ := newTestResolver(t, db, deliverer)

			profile := autoProfile("u1")
			profile.Mode = tc.mode
			if tc.mode == domain.ModeOff {
				profile.WebhookURL = ""
			}
			require.NoError(t, profiles.Create(profile))

			event, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
			require.NoError(t, err)
			assert.Equal(t, tc.decision, event.Decision)

			// Only AUTO actually delivers.
			if tc.mode == domain.ModeAuto {
				assert.Len(t, deliverer.payloads, 1)
			} else {
				assert.Empty(t, deliverer.payloads)
			}
		})
	}
}

func TestResolveAndRecord_BlockedReasonPersisted(t *testing.T) {
	db := newTestDB(t)
	deliverer := okDeliverer()
	resolver, profiles, eventRepo := newTestResolver(t, db, deliverer)

	profile := autoProfile("u1")
	profile.Guardrails.MinScore = floatPtr(70)
	require.NoError(t, profiles.Create(profile))

	sig := breakoutSignal("u1")
	sig.Score = floatPtr(55)

	event, err := resolver.ResolveAndRecord(sig)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlocked, event.Decision)
	assert.Contains(t, event.Reason, "score")
	assert.Empty(t, deliverer.payloads)

	stored, err := eventRepo.GetByKey(event.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.DecisionBlocked, stored.Decision)
}

func TestResolveAndRecord_DeliveryFailureKeptOnDecision(t *testing.T) {
	db := newTestDB(t)
	deliverer := &fakeDeliverer{result: DeliveryResult{OK: false, StatusCode: 502, Body: "bad gateway"}}
	resolver, profiles, eventRepo := newTestResolver(t, db, deliverer)

	require.NoError(t, profiles.Create(autoProfile("u1")))

	event, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)

	// The decision record survives the failed delivery.
	assert.Equal(t, domain.DecisionSend, event.Decision)
	assert.False(t, event.Sent)
	require.NotNil(t, event.DeliveryError)
	assert.Contains(t, *event.DeliveryError, "502")

	stored, err := eventRepo.GetByKey(event.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Sent)
	require.NotNil(t, stored.DeliveryError)
}

func TestResolveAndRecord_CooldownCountsPriorSend(t *testing.T) {
	db := newTestDB(t)
	resolver, profiles, _ := newTestResolver(t, db, okDeliverer())

	profile := autoProfile("u1")
	profile.Guardrails.CooldownMinutes = intPtr(30)
	require.NoError(t, profiles.Create(profile))

	first, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSend, first.Decision)

	// Same symbol through a different rule minutes later: cooldown blocks.
	sig := breakoutSignal("u1")
	sig.SourceID = "rule-2"

	second, err := resolver.ResolveAndRecord(sig)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlocked, second.Decision)
	assert.Contains(t, second.Reason, "cooldown")
}

func TestResolveAndRecord_MaxPerDay(t *testing.T) {
	db := newTestDB(t)
	resolver, profiles, _ := newTestResolver(t, db, okDeliverer())

	profile := autoProfile("u1")
	profile.Guardrails.MaxPerDay = intPtr(2)
	require.NoError(t, profiles.Create(profile))

	for i := 0; i < 2; i++ {
		sig := breakoutSignal("u1")
		sig.SourceID = fmt.Sprintf("rule-%d", i)
		sig.Symbol = fmt.Sprintf("SYM%d", i)

		event, err := resolver.ResolveAndRecord(sig)
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionSend, event.Decision)
	}

	sig := breakoutSignal("u1")
	sig.SourceID = "rule-3"
	sig.Symbol = "SYM3"

	event, err := resolver.ResolveAndRecord(sig)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlocked, event.Decision)
	assert.Contains(t, event.Reason, "daily limit")
}

func TestSelectProfile_BoundThenDefaultThenFirstEnabled(t *testing.T) {
	db := newTestDB(t)
	resolver, profiles, _ := newTestResolver(t, db, okDeliverer())

	// Disabled bound profile falls through to the enabled default.
	bound := autoProfile("u1")
	bound.Name = "bound"
	bound.IsDefault = false
	bound.Enabled = false
	require.NoError(t, profiles.Create(bound))

	def := autoProfile("u1")
	def.Name = "default"
	require.NoError(t, profiles.Create(def))

	sig := breakoutSignal("u1")
	sig.ProfileID = &bound.ID

	event, err := resolver.ResolveAndRecord(sig)
	require.NoError(t, err)
	require.NotNil(t, event.ProfileID)
	assert.Equal(t, def.ID, *event.ProfileID)
}

func TestSelectProfile_FirstEnabledFallback(t *testing.T) {
	db := newTestDB(t)
	resolver, profiles, _ := newTestResolver(t, db, okDeliverer())

	// No default anywhere; the oldest enabled profile is the fallback.
	only := autoProfile("u1")
	only.IsDefault = false
	require.NoError(t, profiles.Create(only))

	event, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)
	require.NotNil(t, event.ProfileID)
	assert.Equal(t, only.ID, *event.ProfileID)
}

func TestApprove_DeliversQueuedDecision(t *testing.T) {
	db := newTestDB(t)
	deliverer := okDeliverer()
	resolver, profiles, eventRepo := newTestResolver(t, db, deliverer)

	profile := autoProfile("u1")
	profile.Mode = domain.ModeConfirm
	require.NoError(t, profiles.Create(profile))

	queued, err := resolver.ResolveAndRecord(breakoutSignal("u1"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionQueue, queued.Decision)
	assert.Empty(t, deliverer.payloads)

	approved, err := resolver.Approve(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSend, approved.Decision)
	assert.True(t, approved.Sent)
	require.Len(t, deliverer.payloads, 1)
	assert.Equal(t, "enter sym=AAPL lp=100.00 tp=104.04 sl=93.00", deliverer.payloads[0])

	// Approving twice fails: the event is no longer queued.
	_, err = resolver.Approve(queued.ID)
	assert.Error(t, err)

	remaining, err := eventRepo.ListQueued("u1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProfileRepository_SealsWebhookAtRest(t *testing.T) {
	db := newTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	box, err := secrets.NewBox("6368616e676520746869732070617373776f726420746f206120736563726574")
	require.NoError(t, err)
	profiles := NewProfileRepository(db.Conn(), box, log)

	profile := autoProfile("u1")
	require.NoError(t, profiles.Create(profile))

	// Stored column holds ciphertext, reads return plaintext.
	var stored string
	require.NoError(t, db.Conn().QueryRow(
		"SELECT webhook_url FROM automation_profiles WHERE id = ?", profile.ID,
	).Scan(&stored))
	assert.NotContains(t, stored, "example.com")

	loaded, err := profiles.GetByID(profile.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "https://hooks.example.com/x", loaded.WebhookURL)
}
