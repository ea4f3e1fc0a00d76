package automation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/domain"
	"github.com/aristath/signal-sentinel/internal/secrets"
)

// profileColumns is the list of columns for the automation_profiles table.
// Column order must match the scanProfile() expectations.
const profileColumns = `id, user_id, name, webhook_url, mode, enabled, is_default, min_score, allowed_strategies, allowed_symbols, allowed_watchlists, window_start, window_end, max_per_day, cooldown_minutes, created_at, updated_at`

// ProfileRepository handles automation profile database operations.
// Webhook URLs are stored sealed; every read path opens them through the
// injected secret store so callers only ever see plaintext.
type ProfileRepository struct {
	db      *sql.DB
	secrets secrets.Store
	log     zerolog.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sql.DB, store secrets.Store, log zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:      db,
		secrets: store,
		log:     log.With().Str("repo", "automation_profiles").Logger(),
	}
}

// Create inserts a new automation profile
func (r *ProfileRepository) Create(profile *domain.AutomationProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	sealed, err := r.secrets.Seal(profile.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to seal webhook url: %w", err)
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	query := `
		INSERT INTO automation_profiles
		(id, user_id, name, webhook_url, mode, enabled, is_default,
		 min_score, allowed_strategies, allowed_symbols, allowed_watchlists,
		 window_start, window_end, max_per_day, cooldown_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	g := profile.Guardrails
	_, err = r.db.Exec(query,
		profile.ID,
		profile.UserID,
		profile.Name,
		sealed,
		string(profile.Mode),
		boolToInt(profile.Enabled),
		boolToInt(profile.IsDefault),
		nullFloat(g.MinScore),
		jsonStrings(g.AllowedStrategies),
		jsonStrings(g.AllowedSymbols),
		jsonStrings(g.AllowedWatchlists),
		nullString(g.WindowStart),
		nullString(g.WindowEnd),
		nullInt(g.MaxPerDay),
		nullInt(g.CooldownMinutes),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	r.log.Info().
		Str("profile_id", profile.ID).
		Str("user_id", profile.UserID).
		Str("mode", string(profile.Mode)).
		Msg("Automation profile created")

	return nil
}

// Update replaces the mutable fields of an existing profile
func (r *ProfileRepository) Update(profile *domain.AutomationProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	sealed, err := r.secrets.Seal(profile.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to seal webhook url: %w", err)
	}

	query := `
		UPDATE automation_profiles
		SET name = ?, webhook_url = ?, mode = ?, enabled = ?, is_default = ?,
		    min_score = ?, allowed_strategies = ?, allowed_symbols = ?,
		    allowed_watchlists = ?, window_start = ?, window_end = ?,
		    max_per_day = ?, cooldown_minutes = ?, updated_at = ?
		WHERE id = ?
	`

	g := profile.Guardrails
	res, err := r.db.Exec(query,
		profile.Name,
		sealed,
		string(profile.Mode),
		boolToInt(profile.Enabled),
		boolToInt(profile.IsDefault),
		nullFloat(g.MinScore),
		jsonStrings(g.AllowedStrategies),
		jsonStrings(g.AllowedSymbols),
		jsonStrings(g.AllowedWatchlists),
		nullString(g.WindowStart),
		nullString(g.WindowEnd),
		nullInt(g.MaxPerDay),
		nullInt(g.CooldownMinutes),
		time.Now().Unix(),
		profile.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("profile not found: %s", profile.ID)
	}

	return nil
}

// GetByID retrieves a profile by ID, nil when not found
func (r *ProfileRepository) GetByID(id string) (*domain.AutomationProfile, error) {
	row := r.db.QueryRow("SELECT "+profileColumns+" FROM automation_profiles WHERE id = ?", id)
	return r.scanOne(row)
}

// GetDefaultForUser returns the user's designated default profile when it
// exists and is enabled, nil otherwise.
func (r *ProfileRepository) GetDefaultForUser(userID string) (*domain.AutomationProfile, error) {
	row := r.db.QueryRow(
		"SELECT "+profileColumns+" FROM automation_profiles WHERE user_id = ? AND is_default = 1 AND enabled = 1 LIMIT 1",
		userID,
	)
	return r.scanOne(row)
}

// FirstEnabledForUser returns the user's oldest enabled profile, nil when
// the user has none.
func (r *ProfileRepository) FirstEnabledForUser(userID string) (*domain.AutomationProfile, error) {
	row := r.db.QueryRow(
		"SELECT "+profileColumns+" FROM automation_profiles WHERE user_id = ? AND enabled = 1 ORDER BY created_at, id LIMIT 1",
		userID,
	)
	return r.scanOne(row)
}

// ListByUser returns all profiles owned by a user
func (r *ProfileRepository) ListByUser(userID string) ([]domain.AutomationProfile, error) {
	rows, err := r.db.Query(
		"SELECT "+profileColumns+" FROM automation_profiles WHERE user_id = ? ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.AutomationProfile
	for rows.Next() {
		profile, err := r.scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	return profiles, rows.Err()
}

// Delete removes a profile
func (r *ProfileRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM automation_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("profile not found: %s", id)
	}

	return nil
}

func (r *ProfileRepository) scanOne(row scanner) (*domain.AutomationProfile, error) {
	profile, err := r.scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (r *ProfileRepository) scanProfile(row scanner) (*domain.AutomationProfile, error) {
	var (
		profile           domain.AutomationProfile
		sealedURL         string
		mode              string
		enabled           int
		isDefault         int
		minScore          sql.NullFloat64
		allowedStrategies sql.NullString
		allowedSymbols    sql.NullString
		allowedWatchlists sql.NullString
		windowStart       sql.NullString
		windowEnd         sql.NullString
		maxPerDay         sql.NullInt64
		cooldownMinutes   sql.NullInt64
		createdAt         int64
		updatedAt         int64
	)

	err := row.Scan(
		&profile.ID, &profile.UserID, &profile.Name, &sealedURL, &mode,
		&enabled, &isDefault, &minScore, &allowedStrategies, &allowedSymbols,
		&allowedWatchlists, &windowStart, &windowEnd, &maxPerDay,
		&cooldownMinutes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	url, err := r.secrets.Open(sealedURL)
	if err != nil {
		return nil, fmt.Errorf("profile %s: failed to open webhook url: %w", profile.ID, err)
	}

	profile.WebhookURL = url
	profile.Mode = domain.AutomationMode(mode)
	profile.Enabled = enabled == 1
	profile.IsDefault = isDefault == 1
	profile.CreatedAt = time.Unix(createdAt, 0).UTC()
	profile.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	g := &profile.Guardrails
	if minScore.Valid {
		g.MinScore = &minScore.Float64
	}
	if err := parseStrings(allowedStrategies, &g.AllowedStrategies); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
	}
	if err := parseStrings(allowedSymbols, &g.AllowedSymbols); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
	}
	if err := parseStrings(allowedWatchlists, &g.AllowedWatchlists); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
	}
	if windowStart.Valid {
		g.WindowStart = &windowStart.String
	}
	if windowEnd.Valid {
		g.WindowEnd = &windowEnd.String
	}
	if maxPerDay.Valid {
		v := int(maxPerDay.Int64)
		g.MaxPerDay = &v
	}
	if cooldownMinutes.Valid {
		v := int(cooldownMinutes.Int64)
		g.CooldownMinutes = &v
	}

	return &profile, nil
}

// jsonStrings serializes a string slice for storage, NULL when empty
func jsonStrings(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

func parseStrings(col sql.NullString, dest *[]string) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dest); err != nil {
		return fmt.Errorf("malformed allow-list column: %w", err)
	}
	return nil
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

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
