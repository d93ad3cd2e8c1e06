package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// createOpenAttempts bounds the insert/refetch loop in CreateOpen when the
// conflicting ticket is closed between the two statements.
const createOpenAttempts = 3

// ticketRepository implements TicketRepository.
type ticketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) FindOpen(ctx context.Context, deviceID uint) (*entities.Ticket, error) {
	var ticket entities.Ticket
	err := r.db.WithContext(ctx).
		Preload("Device").
		Where("device_id = ? AND status = ?", deviceID, entities.TicketOpen).
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Storage("find open ticket", fmt.Errorf("failed to find open ticket for device %d: %w", deviceID, err))
	}
	return &ticket, nil
}

func (r *ticketRepository) CreateOpen(ctx context.Context, ticket *entities.Ticket) (*entities.Ticket, bool, error) {
	if ticket.DeviceID == 0 {
		return nil, false, errors.Validation("create open ticket", fmt.Errorf("missing device id"))
	}
	slot := ticket.DeviceID
	ticket.Status = entities.TicketOpen
	ticket.OpenSlot = &slot
	ticket.ClosedAt = nil

	for range createOpenAttempts {
		candidate := *ticket
		result := r.db.WithContext(ctx).
			Omit("Device").
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "open_slot"}}, DoNothing: true}).
			Create(&candidate)
		if result.Error != nil && !IsDuplicateKey(result.Error) {
			return nil, false, errors.Storage("create open ticket", fmt.Errorf("failed to create ticket for device %d: %w", ticket.DeviceID, result.Error))
		}
		if result.Error == nil && result.RowsAffected > 0 {
			*ticket = candidate
			return ticket, true, nil
		}

		existing, err := r.FindOpen(ctx, ticket.DeviceID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	return nil, false, errors.Storage("create open ticket", fmt.Errorf("open slot for device %d kept changing", ticket.DeviceID))
}

type ticketTx struct {
	tx *gorm.DB
}

func (t ticketTx) RecentStates(deviceID uint, since time.Time) ([]string, error) {
	return recentStates(t.tx, deviceID, since)
}

func (r *ticketRepository) MutateOpen(ctx context.Context, key OpenTicketKey, fn OpenTicketFunc) (*entities.Ticket, error) {
	var saved *entities.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Where("status = ?", entities.TicketOpen)
		switch {
		case key.TicketID != 0:
			query = query.Where("id = ?", key.TicketID)
		case key.DeviceID != 0:
			query = query.Where("device_id = ?", key.DeviceID)
		default:
			return errors.Validation("mutate open ticket", fmt.Errorf("empty ticket key"))
		}

		var ticket entities.Ticket
		if err := query.First(&ticket).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTicketNotFound
			}
			return errors.Storage("mutate open ticket", fmt.Errorf("failed to lock ticket: %w", err))
		}
		if err := tx.First(&ticket.Device, ticket.DeviceID).Error; err != nil {
			return errors.Storage("mutate open ticket", fmt.Errorf("failed to load device %d: %w", ticket.DeviceID, err))
		}

		if err := fn(ticketTx{tx: tx}, &ticket); err != nil {
			if errors.Is(err, ErrSkipUpdate) {
				saved = &ticket
				return nil
			}
			return err
		}

		if ticket.Status == entities.TicketClosed {
			ticket.OpenSlot = nil
		} else {
			slot := ticket.DeviceID
			ticket.OpenSlot = &slot
		}
		if err := tx.Omit("Device").Save(&ticket).Error; err != nil {
			return errors.Storage("mutate open ticket", fmt.Errorf("failed to save ticket %d: %w", ticket.ID, err))
		}
		saved = &ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *ticketRepository) ListOpen(ctx context.Context, deviceCode string, limit int) ([]entities.Ticket, error) {
	var tickets []entities.Ticket
	query := r.db.WithContext(ctx).
		Preload("Device").
		Where("tickets.status = ?", entities.TicketOpen)
	if deviceCode != "" {
		query = query.Joins("JOIN devices ON devices.id = tickets.device_id").
			Where("UPPER(devices.code) = UPPER(?)", deviceCode)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("tickets.opened_at DESC").Order("tickets.id DESC").Find(&tickets).Error; err != nil {
		return nil, errors.Storage("list open tickets", fmt.Errorf("failed to list open tickets: %w", err))
	}
	return tickets, nil
}

func (r *ticketRepository) Get(ctx context.Context, id uint) (*entities.Ticket, error) {
	var ticket entities.Ticket
	if err := r.db.WithContext(ctx).Preload("Device").First(&ticket, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("get ticket", fmt.Errorf("ticket %d not found", id))
		}
		return nil, errors.Storage("get ticket", fmt.Errorf("failed to get ticket %d: %w", id, err))
	}
	return &ticket, nil
}

func (r *ticketRepository) SaveEvent(ctx context.Context, event *entities.TicketEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Omit("Ticket").Create(event).Error; err != nil {
		return errors.Storage("save ticket event", fmt.Errorf("failed to save ticket event: %w", err))
	}
	return nil
}

func (r *ticketRepository) ListEvents(ctx context.Context, ticketID uint) ([]entities.TicketEvent, error) {
	var events []entities.TicketEvent
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC").Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Storage("list ticket events", fmt.Errorf("failed to list events for ticket %d: %w", ticketID, err))
	}
	return events, nil
}

func (r *ticketRepository) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&entities.TicketEvent{})
	if result.Error != nil {
		return 0, errors.Storage("delete ticket events", fmt.Errorf("failed to delete ticket events before %v: %w", before, result.Error))
	}
	return result.RowsAffected, nil
}
