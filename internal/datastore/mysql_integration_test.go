//go:build integration

package datastore_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/datastore"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/testutil/containers"
)

var (
	mysqlContainer *containers.MySQLContainer
	mgr            datastore.Manager
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	mgr, err = datastore.NewMySQLManager(datastore.Config{DSN: mysqlContainer.GetDSN()})
	if err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to open MySQL manager: " + err.Error())
	}
	if err := mgr.Initialize(); err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to migrate schema: " + err.Error())
	}

	code := m.Run()

	_ = mgr.Close()
	_ = mysqlContainer.Terminate(ctx)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, mysqlContainer.Reset(t.Context(), []string{
		"ticket_events", "tickets", "measurements", "alert_rules", "devices", "poller_cursors",
	}))
}

func TestMySQL_OneOpenTicketUnderConcurrency(t *testing.T) {
	resetTables(t)
	db := mgr.DB()

	device := &entities.Device{Code: "FRIDGE-01", IsActive: true, MinTemp: 2, MaxTemp: 8}
	require.NoError(t, repository.NewDeviceRepository(db).Create(t.Context(), device))
	tickets := repository.NewTicketRepository(db)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uint]struct{}{}
	)
	now := time.Now().UTC()
	for range writers {
		wg.Go(func() {
			ticket, ok, err := tickets.CreateOpen(t.Context(), &entities.Ticket{
				DeviceID: device.ID, Severity: entities.SeveritySevere, OpenedAt: now, AttemptCount: 1,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[ticket.ID] = struct{}{}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one writer opens the ticket")
	assert.Len(t, ids, 1, "every writer sees the same OPEN ticket")
}

func TestMySQL_MutateOpenSerializesIncrements(t *testing.T) {
	resetTables(t)
	db := mgr.DB()

	device := &entities.Device{Code: "FRIDGE-02", IsActive: true, MinTemp: 2, MaxTemp: 8}
	require.NoError(t, repository.NewDeviceRepository(db).Create(t.Context(), device))
	tickets := repository.NewTicketRepository(db)
	opened, ok, err := tickets.CreateOpen(t.Context(), &entities.Ticket{
		DeviceID: device.ID, Severity: entities.SeverityCritical, OpenedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	const increments = 20
	var wg sync.WaitGroup
	for range increments {
		wg.Go(func() {
			_, err := tickets.MutateOpen(t.Context(), repository.ByTicket(opened.ID), func(_ repository.TicketTx, tk *entities.Ticket) error {
				tk.AttemptCount++
				return nil
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := tickets.Get(t.Context(), opened.ID)
	require.NoError(t, err)
	assert.Equal(t, increments, got.AttemptCount, "no lost updates")
}

func TestMySQL_ClosedTicketsFreeTheSlot(t *testing.T) {
	resetTables(t)
	db := mgr.DB()

	device := &entities.Device{Code: "FRIDGE-03", IsActive: true, MinTemp: 2, MaxTemp: 8}
	require.NoError(t, repository.NewDeviceRepository(db).Create(t.Context(), device))
	tickets := repository.NewTicketRepository(db)

	for range 3 {
		ticket, ok, err := tickets.CreateOpen(t.Context(), &entities.Ticket{
			DeviceID: device.ID, Severity: entities.SeveritySevere, OpenedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.True(t, ok)
		_, err = tickets.MutateOpen(t.Context(), repository.ByTicket(ticket.ID), func(_ repository.TicketTx, tk *entities.Ticket) error {
			closedAt := time.Now().UTC()
			tk.Status = entities.TicketClosed
			tk.ClosedAt = &closedAt
			return nil
		})
		require.NoError(t, err)
	}

	var closed int64
	require.NoError(t, db.Model(&entities.Ticket{}).Where("device_id = ? AND status = ?", device.ID, entities.TicketClosed).Count(&closed).Error)
	assert.Equal(t, int64(3), closed)
}
