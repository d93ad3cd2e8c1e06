package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

// GetByDevice returns ErrAlertRuleNotFound if the device has no rule.
func (r *alertRuleRepository) GetByDevice(ctx context.Context, deviceID uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, errors.Storage("get alert rule", fmt.Errorf("failed to get alert rule for device %d: %w", deviceID, err))
	}
	return &rule, nil
}

func (r *alertRuleRepository) Upsert(ctx context.Context, rule *entities.AlertRule) error {
	if rule.DeviceID == 0 {
		return errors.Validation("upsert alert rule", fmt.Errorf("missing device id"))
	}
	if rule.LowCrit > rule.LowWarn || rule.LowWarn > rule.HighWarn || rule.HighWarn > rule.HighCrit {
		return errors.Validation("upsert alert rule",
			fmt.Errorf("bands must satisfy low_crit <= low_warn <= high_warn <= high_crit"))
	}
	err := r.db.WithContext(ctx).
		Omit("Device").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"low_warn", "high_warn", "low_crit", "high_crit", "hysteresis", "updated_at"}),
		}).
		Create(rule).Error
	if err != nil {
		return errors.Storage("upsert alert rule", fmt.Errorf("failed to upsert alert rule for device %d: %w", rule.DeviceID, err))
	}
	return nil
}

func (r *alertRuleRepository) Delete(ctx context.Context, deviceID uint) error {
	result := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&entities.AlertRule{})
	if result.Error != nil {
		return errors.Storage("delete alert rule", fmt.Errorf("failed to delete alert rule for device %d: %w", deviceID, result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}
