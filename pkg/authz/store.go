package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/reviewforge/accessctl/pkg/observability"
	"github.com/reviewforge/accessctl/pkg/permissions"
)

// Role is a named bundle of permissions.
type Role struct {
	ID          int64                    `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Permissions []permissions.Permission `json:"permissions"`
	IsBuiltIn   bool                     `json:"is_built_in"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

const (
	defaultRoleCacheSize = 256
	defaultRoleCacheTTL  = time.Minute
)

// Store is the SQL-backed authorization source. Role definitions change
// rarely, so lookups by name go through a small expiring LRU; user-role
// assignments always hit the database.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
	roles  *expirable.LRU[string, *Role]
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	cacheSize int
	cacheTTL  time.Duration
}

// WithRoleCacheSize bounds the role-definition cache.
func WithRoleCacheSize(n int) StoreOption {
	return func(c *storeConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithRoleCacheTTL sets how long a role definition may be served from cache.
func WithRoleCacheTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// NewStore creates a SQL-backed authorization store.
func NewStore(db *sql.DB, logger *observability.Logger, opts ...StoreOption) *Store {
	cfg := storeConfig{
		cacheSize: defaultRoleCacheSize,
		cacheTTL:  defaultRoleCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{
		db:     db,
		logger: logger,
		roles:  expirable.NewLRU[string, *Role](cfg.cacheSize, nil, cfg.cacheTTL),
	}
}

// CheckPermission reports whether any of the user's roles grants the action
// on the resource.
func (s *Store) CheckPermission(ctx context.Context, userID string, resource permissions.Resource, action permissions.Action) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return permissions.PermissionSetAllows(perms, resource, action), nil
}

// GetUserPermissions returns the union of the permissions of every role
// assigned to the user, one entry per resource with actions deduplicated.
func (s *Store) GetUserPermissions(ctx context.Context, userID string) ([]permissions.Permission, error) {
	roles, err := s.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := make(map[permissions.Resource]map[permissions.Action]struct{})
	for _, role := range roles {
		for _, perm := range role.Permissions {
			actions, ok := merged[perm.Resource]
			if !ok {
				actions = make(map[permissions.Action]struct{})
				merged[perm.Resource] = actions
			}
			for _, a := range perm.Actions {
				actions[a] = struct{}{}
			}
		}
	}

	result := make([]permissions.Permission, 0, len(merged))
	for resource, actions := range merged {
		perm := permissions.Permission{Resource: resource, Actions: make([]permissions.Action, 0, len(actions))}
		for a := range actions {
			perm.Actions = append(perm.Actions, a)
		}
		sort.Slice(perm.Actions, func(i, j int) bool { return perm.Actions[i] < perm.Actions[j] })
		result = append(result, perm)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Resource < result[j].Resource })

	return result, nil
}

// AssignRole grants the named role to the user. Assigning a role the user
// already holds is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleName string) error {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, role.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to assign role %q to user %s: %w", roleName, userID, err)
	}
	return nil
}

// RemoveRole revokes the named role from the user. Removing a role the user
// does not hold is a no-op; the role itself must exist.
func (s *Store) RemoveRole(ctx context.Context, userID, roleName string) error {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	query := `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`
	if _, err := s.db.ExecContext(ctx, query, userID, role.ID); err != nil {
		return fmt.Errorf("failed to remove role %q from user %s: %w", roleName, userID, err)
	}
	return nil
}

// ListUserRoles returns every role currently assigned to the user.
func (s *Store) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.permissions, r.is_built_in, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// CreateRole creates a new role.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO roles (name, description, permissions, is_built_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.IsBuiltIn,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles.Remove(role.Name)
	return nil
}

// GetRoleByName retrieves a role definition, serving recent lookups from the
// role cache.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	if role, ok := s.roles.Get(name); ok {
		return role, nil
	}

	query := `
		SELECT id, name, description, permissions, is_built_in, created_at, updated_at
		FROM roles
		WHERE name = $1
	`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, notFound("get role", fmt.Errorf("role not found: %s", name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	s.roles.Add(name, role)
	return role, nil
}

// ListRoles returns all role definitions, built-in roles first.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT id, name, description, permissions, is_built_in, created_at, updated_at
		FROM roles
		ORDER BY is_built_in DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces a role's description and permission set.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE roles
		SET description = $1, permissions = $2, updated_at = $3
		WHERE id = $4
	`

	role.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, query, role.Description, string(permissionsJSON), role.UpdatedAt, role.ID); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	s.roles.Remove(role.Name)
	return nil
}

// DeleteRole deletes a custom role and its assignments. Built-in roles
// cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	role, err := s.GetRoleByName(ctx, name)
	if err != nil {
		return err
	}
	if role.IsBuiltIn {
		return fmt.Errorf("cannot delete built-in role %q", name)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, role.ID); err != nil {
		return fmt.Errorf("failed to delete role assignments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, role.ID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	s.roles.Remove(name)
	return nil
}

// scanRole scans a role row, parsing the permissions JSON column.
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var permissionsJSON string

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.IsBuiltIn,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if permissionsJSON != "" {
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions for role %q: %w", role.Name, err)
		}
	}
	if role.Permissions == nil {
		role.Permissions = []permissions.Permission{}
	}

	return &role, nil
}
