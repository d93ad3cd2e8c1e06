package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

// DefaultReconnectDelay is the fixed pause between transport sessions.
const DefaultReconnectDelay = 3 * time.Second

// ConsumerConfig controls reconnection.
type ConsumerConfig struct {
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed sessions; 0 retries forever.
	MaxReconnectAttempts int
}

// Consumer keeps a Source running and pushes its messages onto a Queue.
type Consumer struct {
	source  Source
	queue   *Queue
	cfg     ConsumerConfig
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(source Source, queue *Queue, cfg ConsumerConfig, m *metrics.Metrics, log logger.Logger) *Consumer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Consumer{
		source:  source,
		queue:   queue,
		cfg:     cfg,
		metrics: m,
		log:     log.Module("consumer"),
	}
}

// Run blocks until ctx is done, restarting the source after every lost
// session with a fixed delay. The attempt counter resets whenever a session
// delivered at least one message. It returns the last transport error once
// MaxReconnectAttempts consecutive sessions have failed.
func (c *Consumer) Run(ctx context.Context) error {
	failures := 0
	for {
		var received atomic.Bool
		err := c.source.Run(ctx, func(msg Message) bool {
			received.Store(true)
			return c.queue.Push(msg)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.Transport(c.source.Name(), fmt.Errorf("session ended"))
		}
		if errors.Is(err, errors.ErrConfig) {
			return err
		}

		if received.Load() {
			failures = 0
		}
		failures++
		c.metrics.Reconnect()
		if c.cfg.MaxReconnectAttempts > 0 && failures >= c.cfg.MaxReconnectAttempts {
			c.log.Error("giving up on transport",
				logger.String("source", c.source.Name()),
				logger.Int("attempts", failures),
				logger.Error(err))
			return err
		}
		c.log.Warn("transport session ended, reconnecting",
			logger.String("source", c.source.Name()),
			logger.Int("attempt", failures),
			logger.Duration("delay", c.cfg.ReconnectDelay),
			logger.Error(err))

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
