package entities

import "time"

// Default AlertRule thresholds in °C.
const (
	DefaultLowWarn    = 2.0
	DefaultHighWarn   = 8.0
	DefaultLowCrit    = 0.0
	DefaultHighCrit   = 10.0
	DefaultHysteresis = 0.3
)

// AlertRule holds optional per-device warning and critical bands. When present
// it takes precedence over the device's min/max bounds. Hysteresis is stored
// for future use and does not affect classification.
type AlertRule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeviceID   uint      `gorm:"not null;uniqueIndex" json:"device_id"`
	LowWarn    float64   `gorm:"not null;default:2" json:"low_warn"`
	HighWarn   float64   `gorm:"not null;default:8" json:"high_warn"`
	LowCrit    float64   `gorm:"not null;default:0" json:"low_crit"`
	HighCrit   float64   `gorm:"not null;default:10" json:"high_crit"`
	Hysteresis float64   `gorm:"not null;default:0.3" json:"hysteresis"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Device     Device    `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// NewDefaultAlertRule returns a rule for deviceID carrying the default bands.
func NewDefaultAlertRule(deviceID uint) *AlertRule {
	return &AlertRule{
		DeviceID:   deviceID,
		LowWarn:    DefaultLowWarn,
		HighWarn:   DefaultHighWarn,
		LowCrit:    DefaultLowCrit,
		HighCrit:   DefaultHighCrit,
		Hysteresis: DefaultHysteresis,
	}
}
