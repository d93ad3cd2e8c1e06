package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

func TestDeviceRepository_GetByCode(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	ctx := t.Context()

	created := createTestDevice(t, db, "FRIDGE-1", 2, 8)

	got, err := repo.GetByCode(ctx, "FRIDGE-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.IsActive)

	_, err = repo.GetByCode(ctx, "MISSING")
	require.ErrorIs(t, err, ErrDeviceNotFound)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeviceRepository_CreateDuplicateCode(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)

	createTestDevice(t, db, "FRIDGE-1", 2, 8)
	err := repo.Create(t.Context(), &entities.Device{Code: "FRIDGE-1", MinTemp: 2, MaxTemp: 8})
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
	assert.True(t, errors.Is(err, errors.ErrStorage))
}

func TestDeviceRepository_GetOrCreate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	ctx := t.Context()

	template := &entities.Device{Code: "NEW-1", IsActive: true, MinTemp: 5, MaxTemp: 25}
	device, created, err := repo.GetOrCreate(ctx, template)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, device.ID)
	assert.InDelta(t, 25.0, device.MaxTemp, 0)

	again, created, err := repo.GetOrCreate(ctx, &entities.Device{Code: "NEW-1", MinTemp: 0, MaxTemp: 1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, device.ID, again.ID)
	assert.InDelta(t, 25.0, again.MaxTemp, 0, "existing bounds must not be overwritten")
}

func TestDeviceRepository_GetOrCreateConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	ctx := t.Context()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uint]struct{}{}
		created int
	)
	for range workers {
		wg.Go(func() {
			d, c, err := repo.GetOrCreate(ctx, &entities.Device{Code: "RACE", IsActive: true, MinTemp: 5, MaxTemp: 25})
			assert.NoError(t, err)
			if d == nil {
				return
			}
			mu.Lock()
			ids[d.ID] = struct{}{}
			if c {
				created++
			}
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestDeviceRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)

	createTestDevice(t, db, "B", 2, 8)
	createTestDevice(t, db, "A", 2, 8)

	devices, err := repo.List(t.Context())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "A", devices[0].Code)
	assert.Equal(t, "B", devices[1].Code)
}
