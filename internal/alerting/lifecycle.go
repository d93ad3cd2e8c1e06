package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/coldwatch/coldwatch/internal/classify"
	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

// Notifier delivers a text to the role at index. It reports delivery and
// never fails the caller.
type Notifier interface {
	NotifyRole(ctx context.Context, index int, text string) bool
}

// Config controls a Machine.
type Config struct {
	Roles                   []string
	AttemptThreshold        int
	RecoveryPolicy          string
	ClearanceWindow         time.Duration
	ReminderIntervalMinutes int
	ReminderTick            time.Duration
	HistoryRetentionDays    int
	Templates               map[string]string
}

// ConfigFromSettings builds a Config from application settings.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		Roles:                   s.Alerting.EscalationRoles,
		AttemptThreshold:        s.Alerting.AttemptThreshold,
		RecoveryPolicy:          s.Alerting.RecoveryPolicy,
		ClearanceWindow:         s.Alerting.ClearanceWindow.Std(),
		ReminderIntervalMinutes: s.Alerting.ReminderIntervalMinutes,
		ReminderTick:            s.Alerting.ReminderTick.Std(),
		HistoryRetentionDays:    s.Alerting.HistoryRetentionDays,
		Templates:               s.Alerting.Templates,
	}
}

// Outcome describes what Apply, Recover or Remind did.
type Outcome struct {
	Action    string
	Ticket    *entities.Ticket
	Notified  bool
	RoleIndex int
}

// AckResult is the structured answer to an acknowledgement.
type AckResult struct {
	OK       bool       `json:"ok"`
	TicketID uint       `json:"ticketId,omitempty"`
	AckedBy  string     `json:"acked_by,omitempty"`
	AckedAt  *time.Time `json:"acked_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Machine applies classified readings to a device's ticket. Every mutation
// is one MutateOpen transaction; notifications go out after it commits.
type Machine struct {
	tickets         repository.TicketRepository
	notifier        Notifier
	ladder          Ladder
	templates       Templates
	policy          string
	clearance       time.Duration
	reminderMinutes int
	metrics         *metrics.Metrics
	log             logger.Logger

	// Now is the clock for Acknowledge. Apply, Recover and Remind take
	// the time from their caller.
	Now func() time.Time
}

// NewMachine creates a Machine. notifier and m may be nil.
func NewMachine(cfg Config, tickets repository.TicketRepository, notifier Notifier, m *metrics.Metrics, log logger.Logger) *Machine {
	if cfg.RecoveryPolicy == "" {
		cfg.RecoveryPolicy = conf.RecoveryImmediate
	}
	if cfg.ClearanceWindow <= 0 {
		cfg.ClearanceWindow = DefaultClearanceWindow
	}
	if cfg.ReminderIntervalMinutes <= 0 {
		cfg.ReminderIntervalMinutes = DefaultReminderIntervalMinutes
	}
	return &Machine{
		tickets:         tickets,
		notifier:        notifier,
		ladder:          NewLadder(cfg.Roles, cfg.AttemptThreshold),
		templates:       NewTemplates(cfg.Templates),
		policy:          cfg.RecoveryPolicy,
		clearance:       cfg.ClearanceWindow,
		reminderMinutes: cfg.ReminderIntervalMinutes,
		metrics:         m,
		log:             log.Module("lifecycle"),
		Now:             time.Now,
	}
}

// Ladder returns the configured escalation ladder.
func (m *Machine) Ladder() Ladder {
	return m.ladder
}

// Apply moves the device's ticket according to a classified reading taken at now.
func (m *Machine) Apply(ctx context.Context, device *entities.Device, state classify.State, now time.Time) (Outcome, error) {
	if device == nil || device.ID == 0 {
		return Outcome{}, errors.Validation("apply reading", fmt.Errorf("device is not stored"))
	}
	now = now.UTC()

	if !state.IsViolation() {
		if m.policy == conf.RecoveryClearance {
			return m.Recover(ctx, device, now)
		}
		return m.closeTicket(ctx, device, now, nil)
	}

	for range createRetries {
		open, err := m.tickets.FindOpen(ctx, device.ID)
		if err != nil {
			return Outcome{}, err
		}
		if open == nil {
			out, created, err := m.openTicket(ctx, device, string(state), now)
			if err != nil || created {
				return out, err
			}
		}
		out, err := m.progress(ctx, device, string(state), now)
		if errors.Is(err, repository.ErrTicketNotFound) {
			// Closed between lookup and mutation: start over.
			continue
		}
		return out, err
	}
	return Outcome{}, errors.Storage("apply reading", fmt.Errorf("open ticket for device %s kept changing", device.Code))
}

// openTicket creates the device's ticket and notifies the first role.
// created is false when another writer opened one first.
func (m *Machine) openTicket(ctx context.Context, device *entities.Device, severity string, now time.Time) (Outcome, bool, error) {
	notifiedAt := now
	ticket := &entities.Ticket{
		DeviceID:              device.ID,
		Severity:              severity,
		OpenedAt:              now,
		LastNotifiedRoleIndex: 0,
		AttemptCount:          1,
		LastNotifiedAt:        &notifiedAt,
		ReminderIntervalMin:   m.reminderMinutes,
	}
	saved, created, err := m.tickets.CreateOpen(ctx, ticket)
	if err != nil || !created {
		return Outcome{}, false, err
	}
	saved.Device = *device

	m.log.Info("ticket opened",
		logger.Uint64("ticket_id", uint64(saved.ID)),
		logger.String("device", device.Code),
		logger.String("severity", severity))
	notified := m.announce(ctx, saved, TemplateOpened, entities.EventOpened, now, "")
	m.metrics.Transition(ActionOpened)
	return Outcome{Action: ActionOpened, Ticket: saved, Notified: notified, RoleIndex: saved.LastNotifiedRoleIndex}, true, nil
}

// progress handles a violation on an existing OPEN ticket.
func (m *Machine) progress(ctx context.Context, device *entities.Device, severity string, now time.Time) (Outcome, error) {
	var action string
	ticket, err := m.tickets.MutateOpen(ctx, repository.ByDevice(device.ID), func(_ repository.TicketTx, t *entities.Ticket) error {
		notifiedAt := now
		if severity == entities.SeverityCritical && t.Severity == entities.SeveritySevere {
			// Severity never downgrades while OPEN; an upgrade starts a
			// fresh violation cycle and is not counted on the ladder.
			t.Severity = entities.SeverityCritical
			t.LastNotifiedAt = &notifiedAt
			t.AckBy = ""
			t.AckAt = nil
			action = ActionEscalated
			return nil
		}
		if t.Acknowledged() {
			action = ActionSuppressed
			return repository.ErrSkipUpdate
		}

		step := m.ladder.Advance(t.LastNotifiedRoleIndex, t.AttemptCount)
		t.LastNotifiedRoleIndex = step.RoleIndex
		t.AttemptCount = step.AttemptCount
		if step.Notify {
			t.LastNotifiedAt = &notifiedAt
			action = ActionAdvanced
		} else {
			action = ActionCounted
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Action: action, Ticket: ticket, RoleIndex: ticket.LastNotifiedRoleIndex}
	switch action {
	case ActionEscalated:
		m.log.Info("ticket escalated",
			logger.Uint64("ticket_id", uint64(ticket.ID)),
			logger.String("device", device.Code))
		out.Notified = m.announce(ctx, ticket, TemplateEscalated, entities.EventEscalated, now, "")
	case ActionAdvanced:
		m.log.Info("ticket advanced on ladder",
			logger.Uint64("ticket_id", uint64(ticket.ID)),
			logger.String("role", m.ladder.Role(ticket.LastNotifiedRoleIndex)))
		out.Notified = m.announce(ctx, ticket, TemplateAdvanced, entities.EventAdvanced, now, "")
	default:
		m.log.Debug("violation counted",
			logger.Uint64("ticket_id", uint64(ticket.ID)),
			logger.String("action", action),
			logger.Int("attempts", ticket.AttemptCount))
	}
	m.metrics.Transition(action)
	return out, nil
}

// Recover closes the device's OPEN ticket when every measurement in the
// clearance window is NORMAL and there is at least one.
func (m *Machine) Recover(ctx context.Context, device *entities.Device, now time.Time) (Outcome, error) {
	now = now.UTC()
	since := now.Add(-m.clearance)
	return m.closeTicket(ctx, device, now, func(tx repository.TicketTx, t *entities.Ticket) (bool, error) {
		states, err := tx.RecentStates(t.DeviceID, since)
		if err != nil {
			return false, err
		}
		return clearanceMet(states), nil
	})
}

// closeTicket closes the device's OPEN ticket when ready allows it. A nil
// ready closes unconditionally.
func (m *Machine) closeTicket(ctx context.Context, device *entities.Device, now time.Time, ready func(repository.TicketTx, *entities.Ticket) (bool, error)) (Outcome, error) {
	held := false
	ticket, err := m.tickets.MutateOpen(ctx, repository.ByDevice(device.ID), func(tx repository.TicketTx, t *entities.Ticket) error {
		if ready != nil {
			ok, err := ready(tx, t)
			if err != nil {
				return err
			}
			if !ok {
				held = true
				return repository.ErrSkipUpdate
			}
		}
		closedAt := now
		t.Status = entities.TicketClosed
		t.ClosedAt = &closedAt
		t.AttemptCount = 0
		return nil
	})
	if errors.Is(err, repository.ErrTicketNotFound) {
		return Outcome{Action: ActionNone}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if held {
		return Outcome{Action: ActionHeld, Ticket: ticket, RoleIndex: ticket.LastNotifiedRoleIndex}, nil
	}

	m.log.Info("ticket closed",
		logger.Uint64("ticket_id", uint64(ticket.ID)),
		logger.String("device", device.Code))
	notified := m.announce(ctx, ticket, TemplateRecovered, entities.EventClosed, now, "")
	m.metrics.Transition(ActionClosed)
	return Outcome{Action: ActionClosed, Ticket: ticket, Notified: notified, RoleIndex: ticket.LastNotifiedRoleIndex}, nil
}

// Remind sends a reminder for the ticket when it is still due at now. The due
// check runs inside the mutation, so concurrent callers send at most once.
func (m *Machine) Remind(ctx context.Context, ticketID uint, now time.Time) (Outcome, error) {
	now = now.UTC()
	due := false
	ticket, err := m.tickets.MutateOpen(ctx, repository.ByTicket(ticketID), func(_ repository.TicketTx, t *entities.Ticket) error {
		if !t.ReminderDue(now) {
			return repository.ErrSkipUpdate
		}
		due = true
		notifiedAt := now
		t.LastNotifiedAt = &notifiedAt
		t.AttemptCount++
		return nil
	})
	if errors.Is(err, repository.ErrTicketNotFound) {
		return Outcome{Action: ActionNone}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if !due {
		return Outcome{Action: ActionNone, Ticket: ticket, RoleIndex: ticket.LastNotifiedRoleIndex}, nil
	}

	notified := m.announce(ctx, ticket, TemplateReminder, entities.EventReminder, now, "")
	m.metrics.Transition(ActionReminded)
	return Outcome{Action: ActionReminded, Ticket: ticket, Notified: notified, RoleIndex: ticket.LastNotifiedRoleIndex}, nil
}

// Acknowledge marks an OPEN ticket as handled by actor and resets its
// attempts. A missing or closed ticket yields OK=false together with a
// NotFound error.
func (m *Machine) Acknowledge(ctx context.Context, ticketID uint, actor string) (AckResult, error) {
	if actor == "" {
		actor = "unknown"
	}
	now := m.Now().UTC()
	ticket, err := m.tickets.MutateOpen(ctx, repository.ByTicket(ticketID), func(_ repository.TicketTx, t *entities.Ticket) error {
		ackAt := now
		t.AckBy = actor
		t.AckAt = &ackAt
		t.AttemptCount = 0
		return nil
	})
	if err != nil {
		msg := fmt.Sprintf("OPEN ticket %d not found", ticketID)
		if errors.Is(err, repository.ErrTicketNotFound) {
			return AckResult{OK: false, Error: msg}, errors.NotFound("acknowledge", errors.NewPlain(msg))
		}
		return AckResult{OK: false, Error: "acknowledgement failed"}, err
	}

	m.log.Info("ticket acknowledged",
		logger.Uint64("ticket_id", uint64(ticket.ID)),
		logger.String("actor", actor))
	m.recordEvent(ticket.ID, entities.EventAcknowledged, "", false, actor)
	m.metrics.Transition(ActionAcked)
	return AckResult{OK: true, TicketID: ticket.ID, AckedBy: ticket.AckBy, AckedAt: ticket.AckAt}, nil
}

// TicketEvents returns the recorded history of a ticket, oldest first.
func (m *Machine) TicketEvents(ctx context.Context, ticketID uint) ([]entities.TicketEvent, error) {
	return m.tickets.ListEvents(ctx, ticketID)
}

// announce notifies the ticket's current role with the named template and
// records the attempt.
func (m *Machine) announce(ctx context.Context, ticket *entities.Ticket, template, kind string, now time.Time, detail string) bool {
	role := m.ladder.Role(ticket.LastNotifiedRoleIndex)
	delivered := false
	if role != "" && m.notifier != nil {
		text := m.templates.Render(template, ticket, role, now)
		delivered = m.notifier.NotifyRole(ctx, m.ladder.Clamp(ticket.LastNotifiedRoleIndex), text)
		m.metrics.Notification(kind, delivered)
	}
	m.recordEvent(ticket.ID, kind, role, delivered, detail)
	return delivered
}

// recordEvent persists a ticket event. Failures are logged only.
func (m *Machine) recordEvent(ticketID uint, kind, role string, delivered bool, detail string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveEventTimeout)
	defer cancel()
	event := &entities.TicketEvent{
		TicketID:  ticketID,
		Kind:      kind,
		Role:      role,
		Delivered: delivered,
		Detail:    detail,
	}
	if err := m.tickets.SaveEvent(saveCtx, event); err != nil {
		m.log.Error("failed to save ticket event",
			logger.Uint64("ticket_id", uint64(ticketID)),
			logger.String("kind", kind),
			logger.Error(err))
	}
}

// clearanceMet reports whether states is non-empty and all NORMAL.
func clearanceMet(states []string) bool {
	if len(states) == 0 {
		return false
	}
	for _, s := range states {
		if classify.State(s) != classify.Normal {
			return false
		}
	}
	return true
}
