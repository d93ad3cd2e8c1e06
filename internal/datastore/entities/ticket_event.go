package entities

import "time"

// Ticket event kinds.
const (
	EventOpened       = "opened"
	EventEscalated    = "escalated"
	EventAdvanced     = "advanced"
	EventReminder     = "reminder"
	EventAcknowledged = "acknowledged"
	EventClosed       = "closed"
)

// TicketEvent records a lifecycle transition or notification attempt.
type TicketEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"not null;index:idx_ticket_events_ticket_created,priority:1" json:"ticket_id"`
	Kind      string    `gorm:"size:20;not null" json:"kind"`
	Role      string    `gorm:"size:64;default:''" json:"role"`
	Delivered bool      `gorm:"not null;default:false" json:"delivered"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"not null;index;index:idx_ticket_events_ticket_created,priority:2" json:"created_at"`
	Ticket    Ticket    `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (TicketEvent) TableName() string {
	return "ticket_events"
}
