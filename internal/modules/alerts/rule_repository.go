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

// ruleColumns is the list of columns for the alert_rules table.
// Column order must match the scanRule() expectations.
const ruleColumns = `id, user_id, symbol, is_global, condition_kind, condition_payload, enabled, profile_id, last_stage, last_price, last_volume_ratio, last_observed_at, created_at, updated_at`

// RuleRepository handles alert rule database operations
type RuleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, log zerolog.Logger) *RuleRepository {
	return &RuleRepository{
		db:  db,
		log: log.With().Str("repo", "alert_rules").Logger(),
	}
}

// Create inserts a new alert rule
func (r *RuleRepository) Create(rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	payload, err := domain.MarshalCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO alert_rules
		(id, user_id, symbol, is_global, condition_kind, condition_payload, enabled, profile_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		rule.ID,
		rule.UserID,
		strings.ToUpper(strings.TrimSpace(rule.Symbol)),
		boolToInt(rule.Global),
		string(rule.Condition.Kind()),
		string(payload),
		boolToInt(rule.Enabled),
		nullString(rule.ProfileID),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.log.Info().
		Str("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("kind", string(rule.Condition.Kind())).
		Bool("global", rule.Global).
		Msg("Alert rule created")

	return nil
}

// Update replaces the mutable fields of an existing rule
func (r *RuleRepository) Update(rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	payload, err := domain.MarshalCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	query := `
		UPDATE alert_rules
		SET symbol = ?, is_global = ?, condition_kind = ?, condition_payload = ?,
		    enabled = ?, profile_id = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.Exec(query,
		strings.ToUpper(strings.TrimSpace(rule.Symbol)),
		boolToInt(rule.Global),
		string(rule.Condition.Kind()),
		string(payload),
		boolToInt(rule.Enabled),
		nullString(rule.ProfileID),
		time.Now().Unix(),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}

	return nil
}

// UpdateLastState replaces the rule's observed-state snapshot.
// Replacement is unconditional and wholesale: this is what keeps the
// evaluator's hysteresis current even on no-trigger ticks.
func (r *RuleRepository) UpdateLastState(ruleID string, state domain.RuleState) error {
	query := `
		UPDATE alert_rules
		SET last_stage = ?, last_price = ?, last_volume_ratio = ?, last_observed_at = ?
		WHERE id = ?
	`

	_, err := r.db.Exec(query,
		string(state.Stage),
		state.Price,
		state.VolumeRatio,
		state.ObservedAt.Unix(),
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule state: %w", err)
	}

	return nil
}

// GetByID retrieves a rule by ID, nil when not found
func (r *RuleRepository) GetByID(id string) (*domain.AlertRule, error) {
	row := r.db.QueryRow("SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// ListEnabled returns all enabled rules
func (r *RuleRepository) ListEnabled() ([]domain.AlertRule, error) {
	rows, err := r.db.Query("SELECT " + ruleColumns + " FROM alert_rules WHERE enabled = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	return r.collectRules(rows)
}

// ListByUser returns all rules owned by a user
func (r *RuleRepository) ListByUser(userID string) ([]domain.AlertRule, error) {
	rows, err := r.db.Query("SELECT "+ruleColumns+" FROM alert_rules WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return r.collectRules(rows)
}

// DistinctUserIDs returns the users that own at least one enabled rule
func (r *RuleRepository) DistinctUserIDs() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT user_id FROM alert_rules WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to list rule users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Delete removes a rule
func (r *RuleRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

// errMalformedCondition marks rules whose stored payload no longer parses.
// List operations skip such rules so one bad payload cannot take down a
// whole polling tick.
var errMalformedCondition = errors.New("malformed condition payload")

func scanRule(row scanner) (*domain.AlertRule, error) {
	var (
		rule           domain.AlertRule
		isGlobal       int
		enabled        int
		kind           string
		payload        string
		profileID      sql.NullString
		lastStage      sql.NullString
		lastPrice      sql.NullFloat64
		lastVolRatio   sql.NullFloat64
		lastObservedAt sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)

	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Symbol, &isGlobal, &kind, &payload,
		&enabled, &profileID, &lastStage, &lastPrice, &lastVolRatio,
		&lastObservedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Global = isGlobal == 1
	rule.Enabled = enabled == 1
	rule.CreatedAt = time.Unix(createdAt, 0).UTC()
	rule.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if profileID.Valid {
		rule.ProfileID = &profileID.String
	}

	cond, err := domain.ParseCondition(domain.ConditionKind(kind), []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %w", rule.ID, errMalformedCondition, err)
	}
	rule.Condition = cond

	if lastObservedAt.Valid {
		rule.LastState = &domain.RuleState{
			Stage:       domain.Stage(lastStage.String),
			Price:       lastPrice.Float64,
			VolumeRatio: lastVolRatio.Float64,
			ObservedAt:  time.Unix(lastObservedAt.Int64, 0).UTC(),
		}
	}

	return &rule, nil
}

func (r *RuleRepository) collectRules(rows *sql.Rows) ([]domain.AlertRule, error) {
	var rules []domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if errors.Is(err, errMalformedCondition) {
			r.log.Warn().Err(err).Msg("Skipping rule with malformed condition payload")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
