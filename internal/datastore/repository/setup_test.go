package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
)

// setupTestDB creates an in-memory SQLite database private to the test.
// A single connection keeps every statement on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(entities.All()...), "failed to migrate tables")
	return db
}

// createTestDevice inserts a device with the given bounds.
func createTestDevice(t *testing.T, db *gorm.DB, code string, minTemp, maxTemp float64) *entities.Device {
	t.Helper()
	device := &entities.Device{Code: code, IsActive: true, MinTemp: minTemp, MaxTemp: maxTemp}
	require.NoError(t, NewDeviceRepository(db).Create(t.Context(), device))
	return device
}
