// Package repository implements the storage gateway over GORM.
package repository

import (
	"context"
	"time"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// Sentinel errors. Each is categorized so callers can also match
// errors.ErrNotFound.
var (
	ErrDeviceNotFound    = errors.NotFound("device", errors.NewPlain("device not found"))
	ErrTicketNotFound    = errors.NotFound("ticket", errors.NewPlain("OPEN ticket not found"))
	ErrAlertRuleNotFound = errors.NotFound("alert rule", errors.NewPlain("alert rule not found"))
)

// ErrSkipUpdate may be returned from an OpenTicketFunc to commit without
// saving the ticket.
var ErrSkipUpdate = errors.NewPlain("skip ticket update")

// DeviceRepository handles device lookups and provisioning.
type DeviceRepository interface {
	GetByCode(ctx context.Context, code string) (*entities.Device, error)
	Create(ctx context.Context, device *entities.Device) error
	// GetOrCreate returns the device with template.Code, creating it from
	// template when absent. created reports whether a row was inserted.
	GetOrCreate(ctx context.Context, template *entities.Device) (device *entities.Device, created bool, err error)
	List(ctx context.Context) ([]entities.Device, error)
}

// MeasurementRepository stores readings.
type MeasurementRepository interface {
	Create(ctx context.Context, m *entities.Measurement) error
	// RecentStates returns the states of the device's measurements with a
	// timestamp at or after since, oldest first.
	RecentStates(ctx context.Context, deviceID uint, since time.Time) ([]string, error)
	// Latest returns the newest measurement of the device, or nil.
	Latest(ctx context.Context, deviceID uint) (*entities.Measurement, error)
}

// TicketTx exposes reads that must run inside a ticket mutation.
type TicketTx interface {
	RecentStates(deviceID uint, since time.Time) ([]string, error)
}

// OpenTicketFunc mutates an OPEN ticket inside a transaction. Returning
// ErrSkipUpdate commits without saving; any other error rolls back.
type OpenTicketFunc func(tx TicketTx, ticket *entities.Ticket) error

// OpenTicketKey selects the OPEN ticket to mutate, by ticket id or device id.
type OpenTicketKey struct {
	TicketID uint
	DeviceID uint
}

// ByTicket keys a mutation by ticket id.
func ByTicket(id uint) OpenTicketKey { return OpenTicketKey{TicketID: id} }

// ByDevice keys a mutation by device id.
func ByDevice(id uint) OpenTicketKey { return OpenTicketKey{DeviceID: id} }

// TicketRepository handles ticket state and history.
type TicketRepository interface {
	// FindOpen returns the device's OPEN ticket, or nil when there is none.
	FindOpen(ctx context.Context, deviceID uint) (*entities.Ticket, error)
	// CreateOpen inserts ticket as the device's OPEN ticket. When one already
	// exists it is returned unchanged and created is false.
	CreateOpen(ctx context.Context, ticket *entities.Ticket) (result *entities.Ticket, created bool, err error)
	// MutateOpen runs fn on the selected OPEN ticket in a single
	// read-modify-write transaction and returns the saved ticket.
	// ErrTicketNotFound is returned when no OPEN ticket matches.
	MutateOpen(ctx context.Context, key OpenTicketKey, fn OpenTicketFunc) (*entities.Ticket, error)
	// ListOpen returns OPEN tickets with their device, newest first. A
	// non-empty deviceCode restricts the result to that device, ignoring case;
	// limit <= 0 means no limit.
	ListOpen(ctx context.Context, deviceCode string, limit int) ([]entities.Ticket, error)
	Get(ctx context.Context, id uint) (*entities.Ticket, error)

	SaveEvent(ctx context.Context, event *entities.TicketEvent) error
	ListEvents(ctx context.Context, ticketID uint) ([]entities.TicketEvent, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRuleRepository handles per-device alert rules.
type AlertRuleRepository interface {
	GetByDevice(ctx context.Context, deviceID uint) (*entities.AlertRule, error)
	// Upsert creates or replaces the device's rule.
	Upsert(ctx context.Context, rule *entities.AlertRule) error
	Delete(ctx context.Context, deviceID uint) error
}

// CursorRepository persists poller offsets.
type CursorRepository interface {
	// Load returns the stored offset, or 0 when the cursor is new.
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, offset int64) error
}
