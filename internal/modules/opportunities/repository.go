package opportunities

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

// opportunityColumns is the list of columns for the opportunities table.
// Column order must match the scanOpportunity() expectations.
const opportunityColumns = `id, user_id, symbol, strategy, timeframe, dedupe_key, detected_at, detection_price, resistance, stop_loss, score, max_price_after, min_price_after, favorable_move_pct, adverse_move_pct, bars_tracked, status, outcome, resolution_reason, active_minutes, resolved_at, created_at, updated_at`

// errDuplicateDedupeKey signals that an opportunity with the same dedupe
// key already exists in this hour bucket.
var errDuplicateDedupeKey = errors.New("duplicate dedupe key")

// Repository handles opportunity database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new opportunity repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "opportunities").Logger(),
	}
}

// ExistsByDedupeKey reports whether an opportunity with this key exists
func (r *Repository) ExistsByDedupeKey(key string) (bool, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(1) FROM opportunities WHERE dedupe_key = ?", key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new opportunity. Returns errDuplicateDedupeKey when a
// racing ingest already created one for the same bucket.
func (r *Repository) Create(opp *domain.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}

	now := time.Now()
	opp.CreatedAt = now
	opp.UpdatedAt = now

	query := `
		INSERT INTO opportunities
		(id, user_id, symbol, strategy, timeframe, dedupe_key, detected_at,
		 detection_price, resistance, stop_loss, score, max_price_after,
		 min_price_after, favorable_move_pct, adverse_move_pct, bars_tracked,
		 status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		opp.ID,
		opp.UserID,
		opp.Symbol,
		opp.Strategy,
		opp.Timeframe,
		opp.DedupeKey,
		opp.DetectedAt.Unix(),
		opp.DetectionPrice,
		opp.Resistance,
		opp.StopLoss,
		opp.Score,
		opp.MaxPriceAfter,
		opp.MinPriceAfter,
		opp.FavorableMovePct,
		opp.AdverseMovePct,
		opp.BarsTracked,
		string(opp.Status),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateDedupeKey
		}
		return fmt.Errorf("failed to create opportunity: %w", err)
	}

	r.log.Info().
		Str("opportunity_id", opp.ID).
		Str("symbol", opp.Symbol).
		Str("strategy", opp.Strategy).
		Float64("detection_price", opp.DetectionPrice).
		Msg("Opportunity created")

	return nil
}

// GetByID retrieves an opportunity by ID, nil when not found
func (r *Repository) GetByID(id string) (*domain.Opportunity, error) {
	row := r.db.QueryRow("SELECT "+opportunityColumns+" FROM opportunities WHERE id = ?", id)

	opp, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return opp, nil
}

// ListActive returns every ACTIVE opportunity across all users
func (r *Repository) ListActive() ([]domain.Opportunity, error) {
	rows, err := r.db.Query(
		"SELECT "+opportunityColumns+" FROM opportunities WHERE status = ? ORDER BY detected_at",
		string(domain.OpportunityActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active opportunities: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// ListActiveByUser returns the user's ACTIVE opportunities
func (r *Repository) ListActiveByUser(userID string) ([]domain.Opportunity, error) {
	rows, err := r.db.Query(
		"SELECT "+opportunityColumns+" FROM opportunities WHERE user_id = ? AND status = ? ORDER BY detected_at",
		userID, string(domain.OpportunityActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active opportunities: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// ListByUser returns the user's opportunities, optionally filtered by status
func (r *Repository) ListByUser(userID string, status string, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + opportunityColumns + " FROM opportunities WHERE user_id = ?"
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY detected_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// UpdateTracking persists the running excursion counters
func (r *Repository) UpdateTracking(opp *domain.Opportunity) error {
	query := `
		UPDATE opportunities
		SET max_price_after = ?, min_price_after = ?, favorable_move_pct = ?,
		    adverse_move_pct = ?, bars_tracked = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	_, err := r.db.Exec(query,
		opp.MaxPriceAfter,
		opp.MinPriceAfter,
		opp.FavorableMovePct,
		opp.AdverseMovePct,
		opp.BarsTracked,
		time.Now().Unix(),
		opp.ID,
		string(domain.OpportunityActive),
	)
	if err != nil {
		return fmt.Errorf("failed to update opportunity tracking: %w", err)
	}
	return nil
}

// Resolve transitions an ACTIVE opportunity to RESOLVED with its terminal
// outcome. The status filter makes the transition one-shot: a second
// resolve attempt affects zero rows.
func (r *Repository) Resolve(id string, outcome domain.OpportunityOutcome, reason string, activeMinutes int, resolvedAt time.Time) error {
	query := `
		UPDATE opportunities
		SET status = ?, outcome = ?, resolution_reason = ?, active_minutes = ?,
		    resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.Exec(query,
		string(domain.OpportunityResolved),
		string(outcome),
		reason,
		activeMinutes,
		resolvedAt.Unix(),
		time.Now().Unix(),
		id,
		string(domain.OpportunityActive),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve opportunity: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("active opportunity not found: %s", id)
	}

	r.log.Info().
		Str("opportunity_id", id).
		Str("outcome", string(outcome)).
		Str("reason", reason).
		Msg("Opportunity resolved")

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectOpportunities(rows *sql.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opps = append(opps, *opp)
	}
	return opps, rows.Err()
}

func scanOpportunity(row scanner) (*domain.Opportunity, error) {
	var (
		opp              domain.Opportunity
		detectedAt       int64
		status           string
		outcome          sql.NullString
		resolutionReason sql.NullString
		activeMinutes    sql.NullInt64
		resolvedAt       sql.NullInt64
		createdAt        int64
		updatedAt        int64
	)

	err := row.Scan(
		&opp.ID, &opp.UserID, &opp.Symbol, &opp.Strategy, &opp.Timeframe,
		&opp.DedupeKey, &detectedAt, &opp.DetectionPrice, &opp.Resistance,
		&opp.StopLoss, &opp.Score, &opp.MaxPriceAfter, &opp.MinPriceAfter,
		&opp.FavorableMovePct, &opp.AdverseMovePct, &opp.BarsTracked,
		&status, &outcome, &resolutionReason, &activeMinutes, &resolvedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	opp.DetectedAt = time.Unix(detectedAt, 0).UTC()
	opp.Status = domain.OpportunityStatus(status)
	if outcome.Valid {
		v := domain.OpportunityOutcome(outcome.String)
		opp.Outcome = &v
	}
	if resolutionReason.Valid {
		opp.ResolutionReason = &resolutionReason.String
	}
	if activeMinutes.Valid {
		v := int(activeMinutes.Int64)
		opp.ActiveMinutes = &v
	}
	if resolvedAt.Valid {
		v := time.Unix(resolvedAt.Int64, 0).UTC()
		opp.ResolvedAt = &v
	}
	opp.CreatedAt = time.Unix(createdAt, 0).UTC()
	opp.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &opp, nil
}

// isUniqueViolation detects sqlite unique-constraint failures
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
