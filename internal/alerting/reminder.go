package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Open     int
	Closed   int
	Reminded int
	Failed   int
}

// Scheduler periodically runs the recovery check and sends reminders for
// OPEN tickets. It also owns the ticket history cleanup loop. The caller
// constructs one Scheduler and controls it through Start and Stop.
type Scheduler struct {
	machine *Machine
	tickets repository.TicketRepository
	tick    time.Duration
	metrics *metrics.Metrics
	log     logger.Logger

	// Now is the sweep clock.
	Now func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. A non-positive tick uses DefaultReminderTick.
func NewScheduler(machine *Machine, tickets repository.TicketRepository, tick time.Duration, m *metrics.Metrics, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultReminderTick
	}
	return &Scheduler{
		machine: machine,
		tickets: tickets,
		tick:    tick,
		metrics: m,
		log:     log.Module("reminders"),
		Now:     time.Now,
	}
}

// Start runs a sweep immediately and then on every tick until ctx is done or
// Stop is called. Starting a running Scheduler is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.NewPlain("reminder scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.wg.Go(func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		s.runSweep(ctx)
		for {
			select {
			case <-ticker.C:
				s.runSweep(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
	s.log.Info("reminder scheduler started", logger.Duration("tick", s.tick))
	return nil
}

// StartHistoryCleanup prunes ticket events older than retentionDays every
// hour. A value of 0 disables cleanup. It must be called after Start and is
// stopped by Stop.
func (s *Scheduler) StartHistoryCleanup(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}

	s.wg.Go(func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
				deleted, err := s.PruneHistory(cleanupCtx, s.Now(), retentionDays)
				cancel()
				if err != nil {
					s.log.Error("ticket history cleanup failed", logger.Error(err))
				} else if deleted > 0 {
					s.log.Info("ticket history cleanup completed",
						logger.Int64("deleted", deleted),
						logger.Int("retention_days", retentionDays))
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop ends the scheduler loops and waits for them. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	res, err := s.Sweep(ctx, s.Now())
	if err != nil {
		s.log.Warn("reminder sweep finished with errors",
			logger.Int("open", res.Open),
			logger.Int("failed", res.Failed),
			logger.Error(err))
		return
	}
	if res.Closed > 0 || res.Reminded > 0 {
		s.log.Info("reminder sweep completed",
			logger.Int("open", res.Open),
			logger.Int("closed", res.Closed),
			logger.Int("reminded", res.Reminded))
	}
}

// Sweep checks every OPEN ticket once: recovery first, then a reminder if one
// is due. A failing ticket does not stop the sweep; all failures are returned
// together.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	tickets, err := s.tickets.ListOpen(ctx, "", 0)
	if err != nil {
		s.metrics.Sweep(0, 1)
		return SweepResult{Failed: 1}, err
	}

	res := SweepResult{Open: len(tickets)}
	var errs error
	for i := range tickets {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		t := &tickets[i]

		out, err := s.machine.Recover(ctx, &t.Device, now)
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("failed to check recovery of ticket %d: %w", t.ID, err))
			continue
		}
		if out.Action == ActionClosed {
			res.Closed++
			continue
		}

		if !t.ReminderDue(now) {
			continue
		}
		out, err = s.machine.Remind(ctx, t.ID, now)
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("failed to remind ticket %d: %w", t.ID, err))
			continue
		}
		if out.Action == ActionReminded {
			res.Reminded++
		}
	}

	s.metrics.Sweep(res.Open-res.Closed, res.Failed)
	return res, errs
}

// PruneHistory deletes ticket events older than retentionDays before now.
func (s *Scheduler) PruneHistory(ctx context.Context, now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return s.tickets.DeleteEventsBefore(ctx, now.AddDate(0, 0, -retentionDays))
}
