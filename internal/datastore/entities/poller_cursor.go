package entities

import "time"

// PollerCursor persists the last processed update id of a named poller.
type PollerCursor struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Offset    int64     `gorm:"column:update_offset;not null;default:0" json:"offset"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (PollerCursor) TableName() string {
	return "poller_cursors"
}
