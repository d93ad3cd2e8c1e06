package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/ingest"
	"github.com/coldwatch/coldwatch/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewZapLogger(io.Discard, logger.LogLevelError, nil)
}

// loadSettings writes extra YAML below a database section pointing at a
// temporary SQLite file and loads it.
func loadSettings(t *testing.T, extra string) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("database:\n  type: sqlite\n  path: %s\napi:\n  enabled: false\n%s",
		filepath.Join(dir, "coldwatch.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	settings, err := conf.Load(path)
	require.NoError(t, err)
	return settings
}

func newApp(t *testing.T, extra string) *App {
	t.Helper()
	a, err := New(loadSettings(t, extra), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// fakeSource delivers its payloads once and then holds the session open.
type fakeSource struct {
	payloads []string
}

func (f *fakeSource) Name() string  { return "fake" }
func (f *fakeSource) Topic() string { return "coldchain/+/telemetry" }

func (f *fakeSource) Run(ctx context.Context, handle ingest.Handler) error {
	for i, p := range f.payloads {
		_ = handle(ingest.Message{
			ID:         fmt.Sprintf("m-%d", i),
			Topic:      "coldchain/FRIDGE-01/telemetry",
			Payload:    []byte(p),
			ReceivedAt: time.Now(),
		})
	}
	<-ctx.Done()
	return nil
}

func TestNew_MigratesDatabase(t *testing.T) {
	a := newApp(t, "")

	for _, table := range []string{"devices", "measurements", "tickets", "ticket_events", "alert_rules", "poller_cursors"} {
		assert.True(t, a.Store.DB().Migrator().HasTable(table), table)
	}
	assert.Equal(t, conf.DefaultEscalationRoles, a.Machine.Ladder().Roles)
	assert.Equal(t, 4, a.Machine.Ladder().Threshold)
}

func TestSourceFor(t *testing.T) {
	settings := loadSettings(t, "transport:\n  mqtt:\n    host: broker.local\n")
	src, err := SourceFor(settings, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &ingest.MQTTSource{}, src)
	assert.Equal(t, "coldchain/+/telemetry", src.Topic())

	settings = loadSettings(t, "transport:\n  kind: kafka\n  kafka:\n    brokers: [\"kafka:9092\"]\n")
	src, err = SourceFor(settings, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &ingest.KafkaSource{}, src)
	assert.Equal(t, "coldchain.telemetry", src.Topic())

	_, err = SourceFor(loadSettings(t, ""), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestServe_ProcessesUntilCancelled(t *testing.T) {
	a := newApp(t, "")
	src := &fakeSource{payloads: []string{
		`{"temperature": 40}`,
		`not json`,
		`{"temperature": 41, "humidity": 55}`,
	}}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, src) }()

	require.Eventually(t, func() bool {
		tickets, err := a.Tickets.ListOpen(t.Context(), "FRIDGE-01", 0)
		return err == nil && len(tickets) == 1 && tickets[0].AttemptCount == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	device, err := a.Devices.GetByCode(t.Context(), "FRIDGE-01")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, device.MinTemp, 0)
	assert.InDelta(t, 25.0, device.MaxTemp, 0)

	latest, err := a.Measurements.Latest(t.Context(), device.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 41.0, latest.TempC, 1e-9)
}

func TestServe_CommandsNeedBotToken(t *testing.T) {
	a := newApp(t, "commands:\n  enabled: true\n")

	err := a.Serve(t.Context(), &fakeSource{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))

	err = a.RunBot(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestInitSentry_Disabled(t *testing.T) {
	flush, err := InitSentry(conf.SentrySettings{}, "test")
	require.NoError(t, err)
	flush()
}
