package licensing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alignex/entitlements/pkg/observability"
)

// LicenseStore is the read surface the resolver depends on.
type LicenseStore interface {
	GetActiveLicense(ctx context.Context, email string) (*UserLicense, error)
	ListOrgModules(ctx context.Context, orgID string) ([]OrgModule, error)
	ListTierRules(ctx context.Context, tier Tier) ([]PermissionRule, error)
}

// Store persists licenses, org modules and tier permission rules.
type Store struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStore creates a licensing store. metrics may be nil.
func NewStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{db: db, logger: logger, metrics: metrics}
}

func (s *Store) observe(ctx context.Context, operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStoreQuery(ctx, operation, start, err)
	}
}

// GetActiveLicense returns the authoritative active license for a user, or
// nil when the user has no active license. When multiple active records
// exist the most recently assigned one wins.
func (s *Store) GetActiveLicense(ctx context.Context, email string) (*UserLicense, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, org_id, tier, active, assigned_at, last_access_at, notes
		FROM user_licenses
		WHERE user_email = $1 AND active = true
		ORDER BY assigned_at DESC
		LIMIT 1`, email)

	lic, err := scanLicense(row)
	if err == sql.ErrNoRows {
		s.observe(ctx, "get_active_license", start, nil)
		return nil, nil
	}
	s.observe(ctx, "get_active_license", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get active license for %s: %w", email, err)
	}
	return lic, nil
}

// ListOrgModules returns all module records for an organization.
func (s *Store) ListOrgModules(ctx context.Context, orgID string) ([]OrgModule, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, module, active, license_key, activated_at, expires_at
		FROM org_modules
		WHERE org_id = $1
		ORDER BY module`, orgID)
	s.observe(ctx, "list_org_modules", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules for org %s: %w", orgID, err)
	}
	defer rows.Close()

	var modules []OrgModule
	for rows.Next() {
		var m OrgModule
		var licenseKey sql.NullString
		var activatedAt, expiresAt sql.NullTime
		if err := rows.Scan(&m.OrgID, &m.Module, &m.Active, &licenseKey, &activatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan org module: %w", err)
		}
		m.LicenseKey = licenseKey.String
		if activatedAt.Valid {
			m.ActivatedAt = &activatedAt.Time
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ListTierRules returns all permission rules for a tier.
func (s *Store) ListTierRules(ctx context.Context, tier Tier) ([]PermissionRule, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, action, can_execute
		FROM tier_permissions
		WHERE tier = $1
		ORDER BY action`, string(tier))
	s.observe(ctx, "list_tier_rules", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for tier %s: %w", tier, err)
	}
	defer rows.Close()

	var rules []PermissionRule
	for rows.Next() {
		var r PermissionRule
		if err := rows.Scan(&r.Tier, &r.Action, &r.CanExecute); err != nil {
			return nil, fmt.Errorf("failed to scan permission rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListLicenses returns licenses, optionally filtered by org, newest first.
func (s *Store) ListLicenses(ctx context.Context, orgID string, limit, offset int) ([]UserLicense, error) {
	start := time.Now()
	query := `
		SELECT id, user_email, org_id, tier, active, assigned_at, last_access_at, notes
		FROM user_licenses`
	args := []interface{}{}
	if orgID != "" {
		query += ` WHERE org_id = $1`
		args = append(args, orgID)
	}
	query += fmt.Sprintf(` ORDER BY assigned_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe(ctx, "list_licenses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []UserLicense
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *lic)
	}
	return licenses, rows.Err()
}

// GetLicense returns the newest license record for a user regardless of the
// active flag, or nil when none exists.
func (s *Store) GetLicense(ctx context.Context, email string) (*UserLicense, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, org_id, tier, active, assigned_at, last_access_at, notes
		FROM user_licenses
		WHERE user_email = $1
		ORDER BY assigned_at DESC
		LIMIT 1`, email)

	lic, err := scanLicense(row)
	if err == sql.ErrNoRows {
		s.observe(ctx, "get_license", start, nil)
		return nil, nil
	}
	s.observe(ctx, "get_license", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get license for %s: %w", email, err)
	}
	return lic, nil
}

// AssignLicense creates an active license for a user and pre-provisions the
// org's module records when they do not exist yet.
func (s *Store) AssignLicense(ctx context.Context, email, orgID string, tier Tier, notes string) (*UserLicense, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.observe(ctx, "assign_license", start, err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO user_licenses (user_email, org_id, tier, active, assigned_at, notes)
		VALUES ($1, $2, $3, true, $4, $5)
		RETURNING id, user_email, org_id, tier, active, assigned_at, last_access_at, notes`,
		email, orgID, string(tier), time.Now().UTC(), notes)
	lic, err := scanLicense(row)
	if err != nil {
		s.observe(ctx, "assign_license", start, err)
		return nil, fmt.Errorf("failed to assign license: %w", err)
	}

	for _, module := range AllModules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO org_modules (org_id, module, active)
			VALUES ($1, $2, $3)
			ON CONFLICT (org_id, module) DO NOTHING`,
			orgID, string(module), module == ModuleBase); err != nil {
			s.observe(ctx, "assign_license", start, err)
			return nil, fmt.Errorf("failed to provision module %s: %w", module, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.observe(ctx, "assign_license", start, err)
		return nil, fmt.Errorf("failed to commit license assignment: %w", err)
	}
	s.observe(ctx, "assign_license", start, nil)
	return lic, nil
}

// UpdateLicenseTier changes the tier of a user's newest license record.
func (s *Store) UpdateLicenseTier(ctx context.Context, email string, tier Tier) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_licenses SET tier = $1
		WHERE id = (
			SELECT id FROM user_licenses WHERE user_email = $2
			ORDER BY assigned_at DESC LIMIT 1
		)`, string(tier), email)
	s.observe(ctx, "update_license_tier", start, err)
	if err != nil {
		return fmt.Errorf("failed to update tier for %s: %w", email, err)
	}
	return requireRowAffected(result, "license", email)
}

// SetLicenseActive toggles the active flag on a user's newest license record.
// Licenses are deactivated rather than deleted.
func (s *Store) SetLicenseActive(ctx context.Context, email string, active bool) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_licenses SET active = $1
		WHERE id = (
			SELECT id FROM user_licenses WHERE user_email = $2
			ORDER BY assigned_at DESC LIMIT 1
		)`, active, email)
	s.observe(ctx, "set_license_active", start, err)
	if err != nil {
		return fmt.Errorf("failed to set license active for %s: %w", email, err)
	}
	return requireRowAffected(result, "license", email)
}

// TouchLastAccess records when a user last exercised their license.
func (s *Store) TouchLastAccess(ctx context.Context, email string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_licenses SET last_access_at = $1
		WHERE user_email = $2 AND active = true`, time.Now().UTC(), email)
	s.observe(ctx, "touch_last_access", start, err)
	if err != nil {
		return fmt.Errorf("failed to touch last access for %s: %w", email, err)
	}
	return nil
}

// UpsertModule creates or replaces an org module record.
func (s *Store) UpsertModule(ctx context.Context, m OrgModule) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_modules (org_id, module, active, license_key, activated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, module) DO UPDATE SET
			active = EXCLUDED.active,
			license_key = EXCLUDED.license_key,
			activated_at = EXCLUDED.activated_at,
			expires_at = EXCLUDED.expires_at`,
		m.OrgID, string(m.Module), m.Active, nullString(m.LicenseKey), nullTime(m.ActivatedAt), nullTime(m.ExpiresAt))
	s.observe(ctx, "upsert_module", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert module %s for org %s: %w", m.Module, m.OrgID, err)
	}
	return nil
}

// SetModuleActive toggles a module for an organization.
func (s *Store) SetModuleActive(ctx context.Context, orgID string, module ModuleKey, active bool) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE org_modules SET active = $1
		WHERE org_id = $2 AND module = $3`, active, orgID, string(module))
	s.observe(ctx, "set_module_active", start, err)
	if err != nil {
		return fmt.Errorf("failed to set module %s active for org %s: %w", module, orgID, err)
	}
	return requireRowAffected(result, "module", string(module))
}

// ListExpiredModules returns module records whose expiry date has passed.
// Expired modules stay active until an administrator deactivates them.
func (s *Store) ListExpiredModules(ctx context.Context, now time.Time) ([]OrgModule, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, module, active, license_key, activated_at, expires_at
		FROM org_modules
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND active = true
		ORDER BY org_id, module`, now)
	s.observe(ctx, "list_expired_modules", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired modules: %w", err)
	}
	defer rows.Close()

	var modules []OrgModule
	for rows.Next() {
		var m OrgModule
		var licenseKey sql.NullString
		var activatedAt, expiresAt sql.NullTime
		if err := rows.Scan(&m.OrgID, &m.Module, &m.Active, &licenseKey, &activatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan org module: %w", err)
		}
		m.LicenseKey = licenseKey.String
		if activatedAt.Valid {
			m.ActivatedAt = &activatedAt.Time
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// UpsertRule creates or replaces a (tier, action) permission rule.
func (s *Store) UpsertRule(ctx context.Context, r PermissionRule) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_permissions (tier, action, can_execute)
		VALUES ($1, $2, $3)
		ON CONFLICT (tier, action) DO UPDATE SET can_execute = EXCLUDED.can_execute`,
		string(r.Tier), string(r.Action), r.CanExecute)
	s.observe(ctx, "upsert_rule", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert rule (%s, %s): %w", r.Tier, r.Action, err)
	}
	return nil
}

// GetRule returns a single (tier, action) rule, or nil when none exists.
func (s *Store) GetRule(ctx context.Context, tier Tier, action Action) (*PermissionRule, error) {
	start := time.Now()
	var r PermissionRule
	err := s.db.QueryRowContext(ctx, `
		SELECT tier, action, can_execute
		FROM tier_permissions
		WHERE tier = $1 AND action = $2`, string(tier), string(action)).
		Scan(&r.Tier, &r.Action, &r.CanExecute)
	if err == sql.ErrNoRows {
		s.observe(ctx, "get_rule", start, nil)
		return nil, nil
	}
	s.observe(ctx, "get_rule", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule (%s, %s): %w", tier, action, err)
	}
	return &r, nil
}

// DeleteRule removes a (tier, action) rule. A missing rule then resolves to
// deny on the steady-state path.
func (s *Store) DeleteRule(ctx context.Context, tier Tier, action Action) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tier_permissions WHERE tier = $1 AND action = $2`,
		string(tier), string(action))
	s.observe(ctx, "delete_rule", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete rule (%s, %s): %w", tier, action, err)
	}
	return requireRowAffected(result, "rule", fmt.Sprintf("%s/%s", tier, action))
}

// CountActiveLicensesByTier returns active license counts keyed by tier, used
// for gauge refresh.
func (s *Store) CountActiveLicensesByTier(ctx context.Context) (map[Tier]int, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, COUNT(*) FROM user_licenses
		WHERE active = true GROUP BY tier`)
	s.observe(ctx, "count_active_licenses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to count active licenses: %w", err)
	}
	defer rows.Close()

	counts := make(map[Tier]int)
	for rows.Next() {
		var tier Tier
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan license count: %w", err)
		}
		counts[tier] = count
	}
	return counts, rows.Err()
}

// CountActiveModules returns active module counts keyed by module, used for
// gauge refresh.
func (s *Store) CountActiveModules(ctx context.Context) (map[ModuleKey]int, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, COUNT(*) FROM org_modules
		WHERE active = true GROUP BY module`)
	s.observe(ctx, "count_active_modules", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to count active modules: %w", err)
	}
	defer rows.Close()

	counts := make(map[ModuleKey]int)
	for rows.Next() {
		var module ModuleKey
		var count int
		if err := rows.Scan(&module, &count); err != nil {
			return nil, fmt.Errorf("failed to scan module count: %w", err)
		}
		counts[module] = count
	}
	return counts, rows.Err()
}

// ErrNotFound signals an administrative write against a missing record.
var ErrNotFound = sql.ErrNoRows

func requireRowAffected(result sql.Result, kind, key string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLicense(row rowScanner) (*UserLicense, error) {
	var lic UserLicense
	var lastAccess sql.NullTime
	var notes sql.NullString
	if err := row.Scan(&lic.ID, &lic.UserEmail, &lic.OrgID, &lic.Tier, &lic.Active,
		&lic.AssignedAt, &lastAccess, &notes); err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		lic.LastAccessAt = &lastAccess.Time
	}
	lic.Notes = notes.String
	return &lic, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
