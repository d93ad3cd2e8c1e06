package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// deviceRepository implements DeviceRepository.
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// GetByCode returns ErrDeviceNotFound if no device has the code.
func (r *deviceRepository) GetByCode(ctx context.Context, code string) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, errors.Storage("get device", fmt.Errorf("failed to get device %q: %w", code, err))
	}
	return &device, nil
}

func (r *deviceRepository) Create(ctx context.Context, device *entities.Device) error {
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return errors.Storage("create device", fmt.Errorf("failed to create device %q: %w", device.Code, err))
	}
	return nil
}

func (r *deviceRepository) GetOrCreate(ctx context.Context, template *entities.Device) (*entities.Device, bool, error) {
	device, err := r.GetByCode(ctx, template.Code)
	if err == nil {
		return device, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	candidate := *template
	candidate.ID = 0
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&candidate)
	if result.Error != nil && !IsDuplicateKey(result.Error) {
		return nil, false, errors.Storage("create device", fmt.Errorf("failed to provision device %q: %w", template.Code, result.Error))
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return &candidate, true, nil
	}

	// Lost a race with a concurrent provisioner.
	device, err = r.GetByCode(ctx, template.Code)
	if err != nil {
		return nil, false, err
	}
	return device, false, nil
}

func (r *deviceRepository) List(ctx context.Context) ([]entities.Device, error) {
	var devices []entities.Device
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&devices).Error; err != nil {
		return nil, errors.Storage("list devices", fmt.Errorf("failed to list devices: %w", err))
	}
	return devices, nil
}
