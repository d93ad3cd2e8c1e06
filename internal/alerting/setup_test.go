package alerting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/coldwatch/coldwatch/internal/classify"
	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/logger"
)

var (
	testRoles = []string{"SITE_PHARMA_MANAGER", "TECHNICAL_MANAGER", "PROCUREMENT_MANAGER"}
	t0        = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func testLogger() logger.Logger {
	return logger.NewZapLogger(io.Discard, logger.LogLevelError, nil)
}

type notifyCall struct {
	index int
	text  string
}

// recordingNotifier records role notifications and reports delivered unless
// fail is set.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	fail  bool
}

func (n *recordingNotifier) NotifyRole(_ context.Context, index int, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{index: index, text: text})
	return !n.fail
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifyCall, len(n.calls))
	copy(out, n.calls)
	return out
}

func (n *recordingNotifier) indexes() []int {
	calls := n.snapshot()
	out := make([]int, len(calls))
	for i, c := range calls {
		out[i] = c.index
	}
	return out
}

// setupTestDB creates an in-memory SQLite database private to the test.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:alerting_%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(entities.All()...), "failed to migrate tables")
	return db
}

type fixture struct {
	db       *gorm.DB
	tickets  repository.TicketRepository
	notifier *recordingNotifier
	machine  *Machine
}

func testConfig() Config {
	return Config{
		Roles:                   testRoles,
		AttemptThreshold:        DefaultAttemptThreshold,
		RecoveryPolicy:          conf.RecoveryImmediate,
		ReminderIntervalMinutes: 30,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := setupTestDB(t)
	tickets := repository.NewTicketRepository(db)
	notifier := &recordingNotifier{}
	machine := NewMachine(cfg, tickets, notifier, nil, testLogger())
	machine.Now = func() time.Time { return t0 }
	return &fixture{db: db, tickets: tickets, notifier: notifier, machine: machine}
}

func (f *fixture) device(t *testing.T, code string) *entities.Device {
	t.Helper()
	d := &entities.Device{Code: code, IsActive: true, MinTemp: 2, MaxTemp: 8}
	require.NoError(t, repository.NewDeviceRepository(f.db).Create(t.Context(), d))
	return d
}

// measure stores a classified measurement at ts.
func (f *fixture) measure(t *testing.T, d *entities.Device, ts time.Time, temp float64) classify.State {
	t.Helper()
	state := classify.Classify(temp, d.MinTemp, d.MaxTemp, classify.DefaultMargin)
	m := &entities.Measurement{DeviceID: d.ID, Timestamp: ts, TempC: temp, State: string(state)}
	require.NoError(t, repository.NewMeasurementRepository(f.db).Create(t.Context(), m))
	return state
}

func (f *fixture) apply(t *testing.T, d *entities.Device, state classify.State, at time.Time) Outcome {
	t.Helper()
	out, err := f.machine.Apply(t.Context(), d, state, at)
	require.NoError(t, err)
	return out
}
