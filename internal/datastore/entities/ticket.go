package entities

import "time"

// Ticket statuses.
const (
	TicketOpen   = "OPEN"
	TicketClosed = "CLOSED"
)

// Ticket severities, ordered SEVERE < CRITICAL.
const (
	SeveritySevere   = "SEVERE"
	SeverityCritical = "CRITICAL"
)

// Ticket is one continuous out-of-range episode for a device.
//
// OpenSlot equals DeviceID while the ticket is OPEN and is NULL once it is
// CLOSED. Its unique index allows any number of closed tickets per device but
// at most one open one, on every supported dialect.
type Ticket struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	DeviceID              uint       `gorm:"not null;index:idx_tickets_device_status,priority:1" json:"device_id"`
	Status                string     `gorm:"size:10;not null;index:idx_tickets_device_status,priority:2" json:"status"`
	Severity              string     `gorm:"size:10;not null" json:"severity"`
	OpenedAt              time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt              *time.Time `json:"closed_at"`
	LastNotifiedRoleIndex int        `gorm:"not null;default:0" json:"last_notified_role_index"`
	AttemptCount          int        `gorm:"not null;default:0" json:"attempt_count"`
	AckBy                 string     `gorm:"size:128;default:''" json:"ack_by"`
	AckAt                 *time.Time `json:"ack_at"`
	LastNotifiedAt        *time.Time `json:"last_notified_at"`
	ReminderIntervalMin   int        `gorm:"column:reminder_interval_minutes;not null;default:30" json:"reminder_interval_minutes"`
	OpenSlot              *uint      `gorm:"uniqueIndex:idx_tickets_open_slot" json:"-"`
	Device                Device     `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device"`
}

// TableName returns the table name for GORM.
func (Ticket) TableName() string {
	return "tickets"
}

// IsOpen reports whether the ticket is OPEN.
func (t *Ticket) IsOpen() bool {
	return t.Status == TicketOpen
}

// Acknowledged reports whether someone has acknowledged the current violation cycle.
func (t *Ticket) Acknowledged() bool {
	return t.AckAt != nil
}

// ReminderInterval returns the per-ticket reminder interval.
func (t *Ticket) ReminderInterval() time.Duration {
	return time.Duration(t.ReminderIntervalMin) * time.Minute
}

// ReminderDue reports whether an unacknowledged OPEN ticket is due for a reminder at now.
func (t *Ticket) ReminderDue(now time.Time) bool {
	if !t.IsOpen() || t.Acknowledged() {
		return false
	}
	if t.LastNotifiedAt == nil {
		return true
	}
	return !now.Before(t.LastNotifiedAt.Add(t.ReminderInterval()))
}
