package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/wrench/pkg/observability"
)

// Migration is one versioned schema step
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema of the profile and custom role store
// plus the users table read by directory.SQLDirectory
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create rbac_custom_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_custom_roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					system_role_ids TEXT[] NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL DEFAULT 'active',
					version BIGINT NOT NULL DEFAULT 1,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_custom_roles_name ON rbac_custom_roles(name);
			`,
		},
		{
			Version:     2,
			Description: "Create rbac_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_profiles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					type VARCHAR(16) NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'active',
					roles TEXT[] NOT NULL DEFAULT '{}',
					custom_role_ids TEXT[] NOT NULL DEFAULT '{}',
					job_roles TEXT[] NOT NULL DEFAULT '{}',
					module_permissions JSONB NOT NULL DEFAULT '{}',
					sidebar_permissions JSONB NOT NULL DEFAULT '{}',
					users_count INTEGER NOT NULL DEFAULT 0,
					version BIGINT NOT NULL DEFAULT 1,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_profiles_name ON rbac_profiles(name);
				CREATE INDEX IF NOT EXISTS idx_rbac_profiles_roles ON rbac_profiles USING GIN (roles);
				CREATE INDEX IF NOT EXISTS idx_rbac_profiles_custom_role_ids ON rbac_profiles USING GIN (custom_role_ids);
			`,
		},
		{
			Version:     3,
			Description: "Create rbac_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_state (
					id INT PRIMARY KEY CHECK (id = 1),
					custom_role_generation BIGINT NOT NULL DEFAULT 0
				);

				INSERT INTO rbac_state (id, custom_role_generation) VALUES (1, 0)
				ON CONFLICT (id) DO NOTHING;
			`,
		},
		{
			Version:     4,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255),
					profile_id VARCHAR(64) REFERENCES rbac_profiles(id) ON DELETE RESTRICT
				);

				CREATE INDEX IF NOT EXISTS idx_users_profile_id ON users(profile_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration completed")
	}

	return nil
}
