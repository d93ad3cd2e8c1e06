// Package entities holds the GORM models persisted by coldwatch.
package entities

import "time"

// Device is a monitored sensor, identified by its unique code.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Label     string    `gorm:"size:255;default:''" json:"label"`
	Site      string    `gorm:"size:255;default:''" json:"site"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	MinTemp   float64   `gorm:"not null" json:"min_temp"`
	MaxTemp   float64   `gorm:"not null" json:"max_temp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}
