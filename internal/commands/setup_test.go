package commands

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

	"github.com/coldwatch/coldwatch/internal/alerting"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/logger"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() logger.Logger {
	return logger.NewZapLogger(io.Discard, logger.LogLevelError, nil)
}

type reply struct {
	dest      string
	text      string
	formatted bool
}

// recordingReplier captures replies instead of sending them.
type recordingReplier struct {
	mu      sync.Mutex
	replies []reply
}

func (r *recordingReplier) Notify(_ context.Context, dest, text string, formatted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{dest: dest, text: text, formatted: formatted})
	return true
}

func (r *recordingReplier) snapshot() []reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reply(nil), r.replies...)
}

type staticRoles []string

func (s staticRoles) RoleName(i int) string {
	if len(s) == 0 {
		return ""
	}
	return s[max(0, min(i, len(s)-1))]
}

type fixture struct {
	db           *gorm.DB
	tickets      repository.TicketRepository
	measurements repository.MeasurementRepository
	machine      *alerting.Machine
	replier      *recordingReplier
	handler      *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:commands_%s?mode=memory&cache=shared&_foreign_keys=ON", name)), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(entities.All()...))

	f := &fixture{
		db:           db,
		tickets:      repository.NewTicketRepository(db),
		measurements: repository.NewMeasurementRepository(db),
		replier:      &recordingReplier{},
	}
	f.machine = alerting.NewMachine(alerting.Config{}, f.tickets, nil, nil, testLogger())
	f.machine.Now = func() time.Time { return t0 }
	f.handler = NewHandler(f.machine, f.tickets, f.measurements,
		staticRoles{"TECHNICIAN", "SUPERVISOR", "MANAGER"}, f.replier, testLogger())
	f.handler.Now = func() time.Time { return t0 }
	return f
}

// openTicket stores a device, a measurement and an OPEN ticket opened
// minutesAgo before t0.
func (f *fixture) openTicket(t *testing.T, code, severity string, temp float64, humidity *float64, minutesAgo int) *entities.Ticket {
	t.Helper()
	device := &entities.Device{Code: code, IsActive: true, MinTemp: 2, MaxTemp: 8}
	require.NoError(t, repository.NewDeviceRepository(f.db).Create(t.Context(), device))
	require.NoError(t, f.measurements.Create(t.Context(), &entities.Measurement{
		DeviceID: device.ID, Timestamp: t0, TempC: temp, Humidity: humidity, State: severity,
	}))
	ticket, created, err := f.tickets.CreateOpen(t.Context(), &entities.Ticket{
		DeviceID:            device.ID,
		Severity:            severity,
		OpenedAt:            t0.Add(-time.Duration(minutesAgo) * time.Minute),
		AttemptCount:        2,
		ReminderIntervalMin: 30,
	})
	require.NoError(t, err)
	require.True(t, created)
	return ticket
}

func textMessage(text string) *Message {
	return &Message{
		MessageID: 1,
		From:      &User{ID: 7, Username: "maria"},
		Chat:      Chat{ID: 4242},
		Text:      text,
	}
}

func ptr[T any](v T) *T { return &v }
