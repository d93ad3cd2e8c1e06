package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// measurementRepository implements MeasurementRepository.
type measurementRepository struct {
	db *gorm.DB
}

// NewMeasurementRepository creates a new MeasurementRepository.
func NewMeasurementRepository(db *gorm.DB) MeasurementRepository {
	return &measurementRepository{db: db}
}

func (r *measurementRepository) Create(ctx context.Context, m *entities.Measurement) error {
	m.Timestamp = m.Timestamp.UTC()
	if err := r.db.WithContext(ctx).Omit("Device").Create(m).Error; err != nil {
		return errors.Storage("create measurement", fmt.Errorf("failed to store measurement: %w", err))
	}
	return nil
}

func (r *measurementRepository) RecentStates(ctx context.Context, deviceID uint, since time.Time) ([]string, error) {
	return recentStates(r.db.WithContext(ctx), deviceID, since)
}

func recentStates(db *gorm.DB, deviceID uint, since time.Time) ([]string, error) {
	var states []string
	err := db.Model(&entities.Measurement{}).
		Where("device_id = ? AND ts >= ?", deviceID, since.UTC()).
		Order("ts ASC").
		Pluck("state", &states).Error
	if err != nil {
		return nil, errors.Storage("recent states", fmt.Errorf("failed to load recent states for device %d: %w", deviceID, err))
	}
	return states, nil
}

func (r *measurementRepository) Latest(ctx context.Context, deviceID uint) (*entities.Measurement, error) {
	var m entities.Measurement
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("ts DESC").Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Storage("latest measurement", fmt.Errorf("failed to load latest measurement for device %d: %w", deviceID, err))
	}
	return &m, nil
}
