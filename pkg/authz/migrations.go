package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reviewforge/accessctl/pkg/observability"
	"github.com/reviewforge/accessctl/pkg/permissions"
)

// Migration is a versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the authorization schema migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					permissions JSONB NOT NULL DEFAULT '[]',
					is_built_in BOOLEAN DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_roles_name ON roles(name);
			`,
		},
		{
			Version:     2,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
	}
}

// RunMigrations applies all pending migrations inside transactions, tracking
// applied versions in authz_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
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

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
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

// BuiltInRoles returns the default role set for the merchant dashboard.
func BuiltInRoles() []Role {
	all := []permissions.Action{
		permissions.ActionCreate,
		permissions.ActionRead,
		permissions.ActionUpdate,
		permissions.ActionDelete,
		permissions.ActionManage,
		permissions.ActionExport,
	}
	readOnly := []permissions.Action{permissions.ActionRead}

	return []Role{
		{
			Name:        "admin",
			Description: "Full access to every resource",
			IsBuiltIn:   true,
			Permissions: []permissions.Permission{
				{Resource: permissions.ResourceCampaigns, Actions: all},
				{Resource: permissions.ResourceMerchants, Actions: all},
				{Resource: permissions.ResourceReviews, Actions: all},
				{Resource: permissions.ResourceIncentives, Actions: all},
				{Resource: permissions.ResourceAnalytics, Actions: all},
				{Resource: permissions.ResourceSettings, Actions: all},
				{Resource: permissions.ResourceUsers, Actions: all},
				{Resource: permissions.ResourceRoles, Actions: all},
				{Resource: permissions.ResourcePerms, Actions: all},
				{Resource: permissions.ResourceAuditLogs, Actions: []permissions.Action{permissions.ActionRead, permissions.ActionExport}},
			},
		},
		{
			Name:        "campaign_manager",
			Description: "Manages review campaigns and incentives",
			IsBuiltIn:   true,
			Permissions: []permissions.Permission{
				{Resource: permissions.ResourceCampaigns, Actions: []permissions.Action{permissions.ActionCreate, permissions.ActionRead, permissions.ActionUpdate, permissions.ActionDelete}},
				{Resource: permissions.ResourceIncentives, Actions: []permissions.Action{permissions.ActionCreate, permissions.ActionRead, permissions.ActionUpdate}},
				{Resource: permissions.ResourceReviews, Actions: readOnly},
				{Resource: permissions.ResourceMerchants, Actions: readOnly},
				{Resource: permissions.ResourceAnalytics, Actions: []permissions.Action{permissions.ActionRead, permissions.ActionExport}},
			},
		},
		{
			Name:        "analyst",
			Description: "Read and export analytics and reviews",
			IsBuiltIn:   true,
			Permissions: []permissions.Permission{
				{Resource: permissions.ResourceAnalytics, Actions: []permissions.Action{permissions.ActionRead, permissions.ActionExport}},
				{Resource: permissions.ResourceReviews, Actions: readOnly},
				{Resource: permissions.ResourceCampaigns, Actions: readOnly},
			},
		},
		{
			Name:        "viewer",
			Description: "Read-only access to dashboard data",
			IsBuiltIn:   true,
			Permissions: []permissions.Permission{
				{Resource: permissions.ResourceCampaigns, Actions: readOnly},
				{Resource: permissions.ResourceReviews, Actions: readOnly},
				{Resource: permissions.ResourceAnalytics, Actions: readOnly},
			},
		},
	}
}

// InitializeBuiltInRoles creates any built-in role that does not exist yet.
func InitializeBuiltInRoles(ctx context.Context, store *Store) error {
	for _, role := range BuiltInRoles() {
		if _, err := store.GetRoleByName(ctx, role.Name); err == nil {
			continue
		} else if !IsNotFound(err) {
			return err
		}

		role := role
		if err := store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to create built-in role %s: %w", role.Name, err)
		}
	}
	return nil
}
