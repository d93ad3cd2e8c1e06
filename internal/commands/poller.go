package commands

import (
	"context"
	"time"

	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const (
	// CursorName keys the poller's row in poller_cursors.
	CursorName = "telegram"
	// DefaultPollTimeout is the getUpdates long-poll timeout.
	DefaultPollTimeout = 50 * time.Second
	// DefaultRetryDelay is the pause after a failed poll.
	DefaultRetryDelay = 3 * time.Second
)

// UpdateSource is the Bot API surface the Poller needs.
type UpdateSource interface {
	DeleteWebhook(ctx context.Context) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller long-polls for command updates and hands them to a Handler. The
// last handled update id is persisted after every batch so a restart
// neither replays nor skips commands.
type Poller struct {
	source     UpdateSource
	handler    *Handler
	cursors    repository.CursorRepository
	timeout    time.Duration
	retryDelay time.Duration
	log        logger.Logger
}

// NewPoller creates a Poller. A non-positive timeout selects DefaultPollTimeout.
func NewPoller(source UpdateSource, handler *Handler, cursors repository.CursorRepository, timeout time.Duration, log logger.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		source:     source,
		handler:    handler,
		cursors:    cursors,
		timeout:    timeout,
		retryDelay: DefaultRetryDelay,
		log:        log.Module("poller"),
	}
}

// Run polls until ctx is cancelled. It returns an error only when the
// stored cursor cannot be read.
func (p *Poller) Run(ctx context.Context) error {
	last, err := p.cursors.Load(ctx, CursorName)
	if err != nil {
		return err
	}
	if err := p.source.DeleteWebhook(ctx); err != nil {
		p.log.Warn("failed to delete webhook", logger.Error(err))
	}
	p.log.Info("command poller started",
		logger.Int64("cursor", last),
		logger.Duration("timeout", p.timeout))

	for ctx.Err() == nil {
		updates, err := p.source.GetUpdates(ctx, last+1, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.Warn("getUpdates failed", logger.Error(err))
			if !p.sleep(ctx) {
				break
			}
			continue
		}
		if len(updates) == 0 {
			continue
		}
		last = p.handleBatch(ctx, updates, last)
	}
	p.log.Info("command poller stopped")
	return nil
}

// handleBatch processes updates in order and persists the new cursor.
func (p *Poller) handleBatch(ctx context.Context, updates []Update, last int64) int64 {
	for _, u := range updates {
		if u.UpdateID <= last {
			continue
		}
		p.handler.ProcessUpdate(ctx, u)
		last = u.UpdateID
	}
	// Persist even when ctx was cancelled mid-batch.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cursors.Save(saveCtx, CursorName, last); err != nil {
		p.log.Error("failed to persist poller cursor",
			logger.Int64("cursor", last),
			logger.Error(err))
	}
	return last
}

func (p *Poller) sleep(ctx context.Context) bool {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
