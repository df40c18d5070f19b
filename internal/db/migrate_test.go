package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/db/migrations"
)

func TestMigrationURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/rewards?sslmode=disable", MigrationURL("postgres://u:p@localhost:5432/rewards?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/rewards", MigrationURL("postgresql://localhost/rewards"))
	require.Equal(t, "pgx5://localhost/rewards", MigrationURL("pgx5://localhost/rewards"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations.FS, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
