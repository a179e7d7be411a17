package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLDirectory reads users from the users table. profile_id is a scalar
// column, one row per user.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory backed by db
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// ListUsersByProfile returns the users holding profileID, ordered by name
func (d *SQLDirectory) ListUsersByProfile(ctx context.Context, profileID string) ([]User, error) {
	query := `
		SELECT id, name, email, profile_id
		FROM users
		WHERE profile_id = $1
		ORDER BY name ASC, id ASC
	`
	rows, err := d.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by profile: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// GetUser retrieves a user by id
func (d *SQLDirectory) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, name, email, profile_id
		FROM users
		WHERE id = $1
	`
	u, err := scanUser(d.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CountUsers returns the total, assigned and per-profile user counts
func (d *SQLDirectory) CountUsers(ctx context.Context) (*Counts, error) {
	counts := &Counts{ByProfile: make(map[string]int)}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&counts.Total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT profile_id, COUNT(*)
		FROM users
		WHERE profile_id IS NOT NULL AND profile_id <> ''
		GROUP BY profile_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users by profile: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var profileID string
		var n int
		if err := rows.Scan(&profileID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan user count: %w", err)
		}
		counts.ByProfile[profileID] = n
		counts.WithProfile += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user counts: %w", err)
	}
	return counts, nil
}

// AssignProfile moves a user to profileID inside one transaction
func (d *SQLDirectory) AssignProfile(ctx context.Context, userID, profileID string) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT profile_id FROM users WHERE id = $1`, userID).Scan(&previous)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	next := sql.NullString{String: profileID, Valid: profileID != ""}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET profile_id = $1 WHERE id = $2`, next, userID); err != nil {
		return "", fmt.Errorf("failed to assign profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return previous.String, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var email, profileID sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &email, &profileID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if email.Valid {
		u.Email = email.String
	}
	if profileID.Valid {
		u.ProfileID = profileID.String
	}
	return &u, nil
}
