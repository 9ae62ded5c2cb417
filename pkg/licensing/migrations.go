package licensing

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all licensing migrations. The driver selects the
// serial column syntax (postgres or sqlite3).
func GetMigrations(driver string) []Migration {
	serial := "BIGSERIAL PRIMARY KEY"
	if driver == "sqlite3" {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create user_licenses table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS user_licenses (
					id %s,
					user_email VARCHAR(255) NOT NULL,
					org_id VARCHAR(255) NOT NULL,
					tier VARCHAR(32) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_access_at TIMESTAMP,
					notes TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_user_licenses_email ON user_licenses(user_email);
				CREATE INDEX IF NOT EXISTS idx_user_licenses_org ON user_licenses(org_id);
				CREATE INDEX IF NOT EXISTS idx_user_licenses_active ON user_licenses(active);
			`, serial),
		},
		{
			Version:     2,
			Description: "Create org_modules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_modules (
					org_id VARCHAR(255) NOT NULL,
					module VARCHAR(32) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT FALSE,
					license_key VARCHAR(255),
					activated_at TIMESTAMP,
					expires_at TIMESTAMP,
					PRIMARY KEY (org_id, module)
				);

				CREATE INDEX IF NOT EXISTS idx_org_modules_expires ON org_modules(expires_at);
			`,
		},
		{
			Version:     3,
			Description: "Create tier_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tier_permissions (
					tier VARCHAR(32) NOT NULL,
					action VARCHAR(64) NOT NULL,
					can_execute BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (tier, action)
				);
			`,
		},
		{
			Version:     4,
			Description: "Seed default tier permission matrix",
			SQL: `
				INSERT INTO tier_permissions (tier, action, can_execute) VALUES
					('read_only', 'view', TRUE),
					('read_only', 'create', FALSE),
					('read_only', 'edit', FALSE),
					('read_only', 'delete', FALSE),
					('read_only', 'manage', FALSE),
					('team_member', 'view', TRUE),
					('team_member', 'create', TRUE),
					('team_member', 'edit', TRUE),
					('team_member', 'delete', FALSE),
					('team_member', 'manage', FALSE),
					('full_license', 'view', TRUE),
					('full_license', 'create', TRUE),
					('full_license', 'edit', TRUE),
					('full_license', 'delete', TRUE),
					('full_license', 'manage', TRUE)
				ON CONFLICT (tier, action) DO NOTHING;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS licensing_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM licensing_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations(driver) {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO licensing_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ProvisionOrgModules ensures one module record exists per (org, module)
// pair. Only the base module starts active.
func ProvisionOrgModules(ctx context.Context, db *sql.DB, orgID string) error {
	for _, module := range AllModules {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO org_modules (org_id, module, active)
			VALUES ($1, $2, $3)
			ON CONFLICT (org_id, module) DO NOTHING`,
			orgID, string(module), module == ModuleBase); err != nil {
			return fmt.Errorf("failed to provision module %s for org %s: %w", module, orgID, err)
		}
	}
	return nil
}
