package automation

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
)

// automationEventColumns is the list of columns for the automation_events
// table. Column order must match the scanAutomationEvent() expectations.
const automationEventColumns = `id, user_id, profile_id, idempotency_key, symbol, strategy, decision, reason, price, target_price, stop_loss, score, sent, delivery_error, created_at`

// errDuplicateKey signals that the idempotency key already exists; the
// caller should fetch and return the prior record.
var errDuplicateKey = errors.New("duplicate idempotency key")

// EventRepository handles automation event database operations
type EventRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewEventRepository creates a new automation event repository
func NewEventRepository(db *sql.DB, log zerolog.Logger) *EventRepository {
	return &EventRepository{
		db:  db,
		log: log.With().Str("repo", "automation_events").Logger(),
	}
}

// Create inserts a new automation event. Returns errDuplicateKey when the
// idempotency key was inserted by a racing tick.
func (r *EventRepository) Create(event *domain.AutomationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO automation_events
		(id, user_id, profile_id, idempotency_key, symbol, strategy,
		 decision, reason, price, target_price, stop_loss, score, sent,
		 delivery_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		event.ID,
		event.UserID,
		nullString(event.ProfileID),
		event.IdempotencyKey,
		event.Symbol,
		event.Strategy,
		string(event.Decision),
		event.Reason,
		event.Price,
		event.TargetPrice,
		event.StopLoss,
		nullFloat(event.Score),
		boolToInt(event.Sent),
		nullString(event.DeliveryError),
		event.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateKey
		}
		return fmt.Errorf("failed to create automation event: %w", err)
	}

	r.log.Info().
		Str("symbol", event.Symbol).
		Str("strategy", event.Strategy).
		Str("decision", string(event.Decision)).
		Str("reason", event.Reason).
		Msg("Automation event recorded")

	return nil
}

// GetByKey retrieves an event by idempotency key, nil when not found
func (r *EventRepository) GetByKey(key string) (*domain.AutomationEvent, error) {
	row := r.db.QueryRow("SELECT "+automationEventColumns+" FROM automation_events WHERE idempotency_key = ?", key)
	return scanOneEvent(row)
}

// GetByID retrieves an event by ID, nil when not found
func (r *EventRepository) GetByID(id string) (*domain.AutomationEvent, error) {
	row := r.db.QueryRow("SELECT "+automationEventColumns+" FROM automation_events WHERE id = ?", id)
	return scanOneEvent(row)
}

// CountSentToday counts the profile's SEND decisions recorded on the given
// calendar day (UTC).
func (r *EventRepository) CountSentToday(profileID string, now time.Time) (int, error) {
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(1) FROM automation_events
		 WHERE profile_id = ? AND decision = ? AND created_at >= ? AND created_at < ?`,
		profileID, string(domain.DecisionSend), dayStart.Unix(), dayEnd.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent events: %w", err)
	}
	return count, nil
}

// LastSentForSymbol returns the profile's most recent SEND decision for a
// symbol, nil when there is none.
func (r *EventRepository) LastSentForSymbol(profileID, symbol string) (*domain.AutomationEvent, error) {
	row := r.db.QueryRow(
		"SELECT "+automationEventColumns+` FROM automation_events
		 WHERE profile_id = ? AND symbol = ? AND decision = ?
		 ORDER BY created_at DESC LIMIT 1`,
		profileID, symbol, string(domain.DecisionSend),
	)
	return scanOneEvent(row)
}

// MarkDelivery records the outcome of a delivery attempt on the event
func (r *EventRepository) MarkDelivery(id string, sent bool, deliveryErr *string) error {
	_, err := r.db.Exec(
		"UPDATE automation_events SET sent = ?, delivery_error = ? WHERE id = ?",
		boolToInt(sent), nullString(deliveryErr), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery: %w", err)
	}
	return nil
}

// MarkApproved promotes a queued event to SEND and records the delivery
// outcome of the approval.
func (r *EventRepository) MarkApproved(id string, sent bool, deliveryErr *string) error {
	res, err := r.db.Exec(
		"UPDATE automation_events SET decision = ?, reason = ?, sent = ?, delivery_error = ? WHERE id = ? AND decision = ?",
		string(domain.DecisionSend), "approved", boolToInt(sent), nullString(deliveryErr),
		id, string(domain.DecisionQueue),
	)
	if err != nil {
		return fmt.Errorf("failed to approve event: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("queued event not found: %s", id)
	}
	return nil
}

// ListQueued returns the user's queued decisions awaiting approval
func (r *EventRepository) ListQueued(userID string) ([]domain.AutomationEvent, error) {
	rows, err := r.db.Query(
		"SELECT "+automationEventColumns+" FROM automation_events WHERE user_id = ? AND decision = ? ORDER BY created_at DESC",
		userID, string(domain.DecisionQueue),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByUser returns the most recent automation events for a user
func (r *EventRepository) ListByUser(userID string, limit int) ([]domain.AutomationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		"SELECT "+automationEventColumns+" FROM automation_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOneEvent(row scanner) (*domain.AutomationEvent, error) {
	event, err := scanAutomationEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation event: %w", err)
	}
	return event, nil
}

func collectEvents(rows *sql.Rows) ([]domain.AutomationEvent, error) {
	var events []domain.AutomationEvent
	for rows.Next() {
		event, err := scanAutomationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanAutomationEvent(row scanner) (*domain.AutomationEvent, error) {
	var (
		event         domain.AutomationEvent
		profileID     sql.NullString
		decision      string
		score         sql.NullFloat64
		sent          int
		deliveryError sql.NullString
		createdAt     int64
	)

	err := row.Scan(
		&event.ID, &event.UserID, &profileID, &event.IdempotencyKey,
		&event.Symbol, &event.Strategy, &decision, &event.Reason,
		&event.Price, &event.TargetPrice, &event.StopLoss, &score,
		&sent, &deliveryError, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if profileID.Valid {
		event.ProfileID = &profileID.String
	}
	event.Decision = domain.AutomationDecision(decision)
	if score.Valid {
		event.Score = &score.Float64
	}
	event.Sent = sent == 1
	if deliveryError.Valid {
		event.DeliveryError = &deliveryError.String
	}
	event.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &event, nil
}

// isUniqueViolation detects sqlite unique-constraint failures
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
