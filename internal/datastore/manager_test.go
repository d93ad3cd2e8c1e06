package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
)

func TestNewManager_SQLiteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "coldwatch.db")
	mgr, err := NewManager(conf.DatabaseSettings{Type: "sqlite", Path: path}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.Equal(t, "sqlite", mgr.Dialect())
	require.NoError(t, mgr.Initialize())
	require.NoError(t, mgr.Initialize(), "migration is idempotent")

	for _, model := range entities.All() {
		assert.True(t, mgr.DB().Migrator().HasTable(model), "%T table missing", model)
	}
	assert.FileExists(t, path)
}

func TestNewManager_RejectsUnknownDialect(t *testing.T) {
	t.Parallel()

	_, err := NewManager(conf.DatabaseSettings{Type: "postgres"}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestNewMySQLManager_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewMySQLManager(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()

	assert.Contains(t, sqliteDSN(""), ":memory:")
	assert.Contains(t, sqliteDSN(":memory:"), ":memory:")
	dsn := sqliteDSN("/var/lib/coldwatch/coldwatch.db")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_foreign_keys=ON")
}
