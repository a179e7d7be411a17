package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/platinummonkey/wrench/pkg/audit"
)

// SQLStore persists profiles and custom roles in PostgreSQL. Audit records
// are written through audit.DBStore inside the same transaction.
type SQLStore struct {
	db    *sql.DB
	audit *audit.DBStore
}

// NewSQLStore creates a store over db. The schema comes from RunMigrations.
func NewSQLStore(db *sql.DB, auditStore *audit.DBStore) *SQLStore {
	return &SQLStore{db: db, audit: auditStore}
}

const profileColumns = `id, name, description, type, status, roles, custom_role_ids, job_roles,
		module_permissions, sidebar_permissions, users_count, version, created_at, updated_at`

const customRoleColumns = `id, name, description, system_role_ids, status, version, created_at, updated_at, created_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var modulesJSON, sidebarJSON []byte
	var description sql.NullString

	err := row.Scan(
		&p.ID,
		&p.Name,
		&description,
		&p.Type,
		&p.Status,
		pq.Array(&p.Roles),
		pq.Array(&p.CustomRoleIDs),
		pq.Array(&p.JobRoles),
		&modulesJSON,
		&sidebarJSON,
		&p.UsersCount,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Description = description.String

	p.ModulePermissions = map[Module]Tier{}
	if len(modulesJSON) > 0 {
		if err := json.Unmarshal(modulesJSON, &p.ModulePermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal module permissions: %w", err)
		}
	}
	p.SidebarPermissions = map[ItemKey]PermissionFlags{}
	if len(sidebarJSON) > 0 {
		if err := json.Unmarshal(sidebarJSON, &p.SidebarPermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sidebar permissions: %w", err)
		}
	}
	return &p, nil
}

func scanCustomRole(row rowScanner) (*CustomRole, error) {
	var cr CustomRole
	var description, createdBy sql.NullString

	err := row.Scan(
		&cr.ID,
		&cr.Name,
		&description,
		pq.Array(&cr.SystemRoleIDs),
		&cr.Status,
		&cr.Version,
		&cr.CreatedAt,
		&cr.UpdatedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}
	cr.Description = description.String
	cr.CreatedBy = createdBy.String
	return &cr, nil
}

func marshalPermissions(p *Profile) (string, string, error) {
	modules := p.ModulePermissions
	if modules == nil {
		modules = map[Module]Tier{}
	}
	sidebar := p.SidebarPermissions
	if sidebar == nil {
		sidebar = map[ItemKey]PermissionFlags{}
	}

	modulesJSON, err := json.Marshal(modules)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal module permissions: %w", err)
	}
	sidebarJSON, err := json.Marshal(sidebar)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal sidebar permissions: %w", err)
	}
	return string(modulesJSON), string(sidebarJSON), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// withTx runs fn in a transaction, rolling back on any error
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) appendRecord(ctx context.Context, tx *sql.Tx, rec AuditRecord) error {
	if rec.Event == nil {
		return fmt.Errorf("audit event is required")
	}
	if rec.Entry != nil {
		if err := s.audit.AppendEntry(ctx, tx, rec.Entry); err != nil {
			return err
		}
	}
	return s.audit.AppendEvent(ctx, tx, rec.Event)
}

// casMiss explains why a versioned write touched no row
func casMiss(ctx context.Context, tx *sql.Tx, table, kind, id string, expected int64) error {
	var actual int64
	err := tx.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = $1", id).Scan(&actual)
	if err == sql.ErrNoRows {
		return &NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", kind, err)
	}
	return &ConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM rbac_profiles WHERE id = $1`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: KindProfile, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (s *SQLStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM rbac_profiles ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

func (s *SQLStore) CreateProfile(ctx context.Context, p *Profile, rec AuditRecord) error {
	modulesJSON, sidebarJSON, err := marshalPermissions(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rbac_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.Name, p.Description, string(p.Type), string(p.Status),
			pq.Array(p.Roles), pq.Array(p.CustomRoleIDs), pq.Array(p.JobRoles),
			modulesJSON, sidebarJSON, p.UsersCount, int64(1), p.CreatedAt, p.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return &ConflictError{Kind: KindProfile, ID: p.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		if err := s.appendRecord(ctx, tx, rec); err != nil {
			return err
		}
		p.Version = 1
		return nil
	})
}

func (s *SQLStore) UpdateProfile(ctx context.Context, p *Profile, expectedVersion int64, rec AuditRecord) error {
	modulesJSON, sidebarJSON, err := marshalPermissions(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE rbac_profiles
		SET name = $1, description = $2, type = $3, status = $4,
			roles = $5, custom_role_ids = $6, job_roles = $7,
			module_permissions = $8, sidebar_permissions = $9,
			version = $10, updated_at = $11
		WHERE id = $12 AND version = $13
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			p.Name, p.Description, string(p.Type), string(p.Status),
			pq.Array(p.Roles), pq.Array(p.CustomRoleIDs), pq.Array(p.JobRoles),
			modulesJSON, sidebarJSON,
			expectedVersion+1, p.UpdatedAt,
			p.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return casMiss(ctx, tx, "rbac_profiles", KindProfile, p.ID, expectedVersion)
		}
		if err := s.appendRecord(ctx, tx, rec); err != nil {
			return err
		}
		p.Version = expectedVersion + 1
		return nil
	})
}

func (s *SQLStore) DeleteProfile(ctx context.Context, id string, expectedVersion int64, rec AuditRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM rbac_profiles WHERE id = $1 AND version = $2",
			id, expectedVersion,
		)
		if isForeignKeyViolation(err) {
			return profileInUse(-1)
		}
		if err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return casMiss(ctx, tx, "rbac_profiles", KindProfile, id, expectedVersion)
		}
		return s.appendRecord(ctx, tx, rec)
	})
}

func (s *SQLStore) SetUsersCounts(ctx context.Context, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"UPDATE rbac_profiles SET users_count = $1 WHERE id = $2",
				counts[id], id,
			); err != nil {
				return fmt.Errorf("failed to set users count: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetCustomRole(ctx context.Context, id string) (*CustomRole, error) {
	query := `SELECT ` + customRoleColumns + ` FROM rbac_custom_roles WHERE id = $1`

	cr, err := scanCustomRole(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: KindCustomRole, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom role: %w", err)
	}
	return cr, nil
}

func (s *SQLStore) ListCustomRoles(ctx context.Context) ([]*CustomRole, error) {
	query := `SELECT ` + customRoleColumns + ` FROM rbac_custom_roles ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom roles: %w", err)
	}
	defer rows.Close()

	roles := []*CustomRole{}
	for rows.Next() {
		cr, err := scanCustomRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom role: %w", err)
		}
		roles = append(roles, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate custom roles: %w", err)
	}
	return roles, nil
}

func bumpGeneration(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE rbac_state SET custom_role_generation = custom_role_generation + 1 WHERE id = 1",
	); err != nil {
		return fmt.Errorf("failed to bump custom role generation: %w", err)
	}
	return nil
}

func (s *SQLStore) CreateCustomRole(ctx context.Context, cr *CustomRole, event *audit.Event) error {
	query := `
		INSERT INTO rbac_custom_roles (` + customRoleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			cr.ID, cr.Name, cr.Description, pq.Array(cr.SystemRoleIDs), string(cr.Status),
			int64(1), cr.CreatedAt, cr.UpdatedAt, cr.CreatedBy,
		)
		if isUniqueViolation(err) {
			return &ConflictError{Kind: KindCustomRole, ID: cr.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to create custom role: %w", err)
		}
		if err := bumpGeneration(ctx, tx); err != nil {
			return err
		}
		if err := s.appendRecord(ctx, tx, AuditRecord{Event: event}); err != nil {
			return err
		}
		cr.Version = 1
		return nil
	})
}

func (s *SQLStore) UpdateCustomRole(ctx context.Context, cr *CustomRole, expectedVersion int64, event *audit.Event) error {
	query := `
		UPDATE rbac_custom_roles
		SET name = $1, description = $2, system_role_ids = $3, status = $4,
			version = $5, updated_at = $6
		WHERE id = $7 AND version = $8
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			cr.Name, cr.Description, pq.Array(cr.SystemRoleIDs), string(cr.Status),
			expectedVersion+1, cr.UpdatedAt,
			cr.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update custom role: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return casMiss(ctx, tx, "rbac_custom_roles", KindCustomRole, cr.ID, expectedVersion)
		}
		if err := bumpGeneration(ctx, tx); err != nil {
			return err
		}
		if err := s.appendRecord(ctx, tx, AuditRecord{Event: event}); err != nil {
			return err
		}
		cr.Version = expectedVersion + 1
		return nil
	})
}

func (s *SQLStore) DeleteCustomRole(ctx context.Context, id string, event *audit.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM rbac_custom_roles WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete custom role: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return &NotFoundError{Kind: KindCustomRole, ID: id}
		}
		if err := bumpGeneration(ctx, tx); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, AuditRecord{Event: event})
	})
}

func (s *SQLStore) CustomRoleGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx,
		"SELECT custom_role_generation FROM rbac_state WHERE id = 1",
	).Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get custom role generation: %w", err)
	}
	return gen, nil
}
