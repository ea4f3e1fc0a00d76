package alerts

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

// eventColumns is the list of columns for the alert_events table.
// Column order must match the scanEvent() expectations.
const eventColumns = `id, rule_id, user_id, symbol, event_key, from_state, to_state, price, price_from_high, volume_ratio, resistance, stop_loss, created_at`

// EventRepository handles alert event database operations
type EventRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB, log zerolog.Logger) *EventRepository {
	return &EventRepository{
		db:  db,
		log: log.With().Str("repo", "alert_events").Logger(),
	}
}

// ExistsByKey reports whether an event with this dedup key already exists
func (r *EventRepository) ExistsByKey(eventKey string) (bool, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(1) FROM alert_events WHERE event_key = ?", eventKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check event key: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new alert event. A duplicate event key is suppressed
// silently: the unique index is the dedup safety net against racing ticks,
// and a lost race means the event is already recorded.
func (r *EventRepository) Create(event *domain.AlertEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO alert_events
		(id, rule_id, user_id, symbol, event_key, from_state, to_state,
		 price, price_from_high, volume_ratio, resistance, stop_loss, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		event.ID,
		event.RuleID,
		event.UserID,
		event.Symbol,
		event.EventKey,
		event.FromState,
		event.ToState,
		event.Price,
		event.PriceFromHigh,
		event.VolumeRatio,
		event.Resistance,
		event.StopLoss,
		event.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.log.Debug().
				Str("event_key", event.EventKey).
				Msg("Alert event already recorded, skipping duplicate")
			return nil
		}
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	r.log.Info().
		Str("rule_id", event.RuleID).
		Str("symbol", event.Symbol).
		Str("to_state", event.ToState).
		Msg("Alert event created")

	return nil
}

// GetByKey retrieves an event by its dedup key, nil when not found
func (r *EventRepository) GetByKey(eventKey string) (*domain.AlertEvent, error) {
	row := r.db.QueryRow("SELECT "+eventColumns+" FROM alert_events WHERE event_key = ?", eventKey)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}

	return event, nil
}

// ListByUser returns the most recent events for a user
func (r *EventRepository) ListByUser(userID string, limit int) ([]domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		"SELECT "+eventColumns+" FROM alert_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []domain.AlertEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanEvent(row scanner) (*domain.AlertEvent, error) {
	var (
		event     domain.AlertEvent
		createdAt int64
	)

	err := row.Scan(
		&event.ID, &event.RuleID, &event.UserID, &event.Symbol,
		&event.EventKey, &event.FromState, &event.ToState,
		&event.Price, &event.PriceFromHigh, &event.VolumeRatio,
		&event.Resistance, &event.StopLoss, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	event.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &event, nil
}

// isUniqueViolation detects sqlite unique-constraint failures
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
