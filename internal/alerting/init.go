package alerting

import (
	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

// Initialize builds the lifecycle machine and the reminder scheduler from
// settings. The scheduler is returned stopped; the caller owns Start and Stop.
func Initialize(
	settings *conf.Settings,
	tickets repository.TicketRepository,
	notifier Notifier,
	m *metrics.Metrics,
	log logger.Logger,
) (*Machine, *Scheduler) {
	cfg := ConfigFromSettings(settings)
	machine := NewMachine(cfg, tickets, notifier, m, log)
	scheduler := NewScheduler(machine, tickets, cfg.ReminderTick, m, log)

	if len(cfg.Roles) == 0 {
		log.Warn("no escalation roles configured: tickets will be tracked without notifications")
	}
	log.Info("alerting initialized",
		logger.Int("roles", len(cfg.Roles)),
		logger.Int("attempt_threshold", machine.ladder.Threshold),
		logger.String("recovery_policy", machine.policy),
		logger.Duration("reminder_tick", scheduler.tick))
	return machine, scheduler
}
