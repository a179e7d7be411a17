package directory

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			profile_id TEXT
		);

		INSERT INTO users (id, name, email, profile_id) VALUES
			('u1', 'Ana', 'ana@shop.test', 'p-mechanic'),
			('u2', 'Bruno', NULL, 'p-mechanic'),
			('u3', 'Carla', 'carla@shop.test', 'p-manager'),
			('u4', 'Davi', NULL, NULL);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// directories runs each case against both implementations
func directories(t *testing.T) map[string]Directory {
	return map[string]Directory{
		"sql": NewSQLDirectory(setupTestDB(t)),
		"memory": NewMemoryDirectory(
			User{ID: "u1", Name: "Ana", Email: "ana@shop.test", ProfileID: "p-mechanic"},
			User{ID: "u2", Name: "Bruno", ProfileID: "p-mechanic"},
			User{ID: "u3", Name: "Carla", Email: "carla@shop.test", ProfileID: "p-manager"},
			User{ID: "u4", Name: "Davi"},
		),
	}
}

func TestDirectory_ListUsersByProfile(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			users, err := dir.ListUsersByProfile(context.Background(), "p-mechanic")
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "u1", users[0].ID)
			assert.Equal(t, "ana@shop.test", users[0].Email)
			assert.Equal(t, "u2", users[1].ID)
			assert.Empty(t, users[1].Email)

			none, err := dir.ListUsersByProfile(context.Background(), "p-unknown")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestDirectory_GetUser(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			u, err := dir.GetUser(context.Background(), "u4")
			require.NoError(t, err)
			assert.Equal(t, "Davi", u.Name)
			assert.Empty(t, u.ProfileID)

			_, err = dir.GetUser(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrUserNotFound)
		})
	}
}

func TestDirectory_CountUsers(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			counts, err := dir.CountUsers(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 4, counts.Total)
			assert.Equal(t, 3, counts.WithProfile)
			assert.Equal(t, map[string]int{"p-mechanic": 2, "p-manager": 1}, counts.ByProfile)
		})
	}
}

func TestDirectory_AssignProfile(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			previous, err := dir.AssignProfile(ctx, "u2", "p-manager")
			require.NoError(t, err)
			assert.Equal(t, "p-mechanic", previous)

			previous, err = dir.AssignProfile(ctx, "u4", "p-manager")
			require.NoError(t, err)
			assert.Empty(t, previous)

			counts, err := dir.CountUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"p-mechanic": 1, "p-manager": 3}, counts.ByProfile)

			previous, err = dir.AssignProfile(ctx, "u1", "")
			require.NoError(t, err)
			assert.Equal(t, "p-mechanic", previous)

			counts, err = dir.CountUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, counts.WithProfile)
			assert.NotContains(t, counts.ByProfile, "p-mechanic")

			_, err = dir.AssignProfile(ctx, "missing", "p-manager")
			assert.ErrorIs(t, err, ErrUserNotFound)
		})
	}
}
