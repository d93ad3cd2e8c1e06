package entities

import "time"

// Measurement is one immutable telemetry reading. Out-of-order and duplicate
// timestamps are stored as separate rows.
type Measurement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  uint      `gorm:"not null;index:idx_measurements_device_ts,priority:1" json:"device_id"`
	Timestamp time.Time `gorm:"column:ts;not null;index:idx_measurements_device_ts,priority:2;index:idx_measurements_state_ts,priority:2" json:"ts"`
	TempC     float64   `gorm:"not null" json:"temp_c"`
	Humidity  *float64  `json:"humidity"`
	State     string    `gorm:"size:16;not null;index:idx_measurements_state_ts,priority:1" json:"state"`
	Device    Device    `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Measurement) TableName() string {
	return "measurements"
}
