package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

const (
	// DefaultQueueSize is the capacity of the message queue.
	DefaultQueueSize = 1000
	// DefaultPushTimeout is how long Push waits for space in a full queue.
	DefaultPushTimeout = 5 * time.Second
)

// QueueConfig sizes the queue.
type QueueConfig struct {
	Size int
	// PushTimeout bounds the wait for space; the message is dropped after it.
	PushTimeout time.Duration
}

// ProcessFunc handles one queued message.
type ProcessFunc func(ctx context.Context, msg Message) error

// Queue decouples the transport from processing. Messages go to a buffered
// channel drained by a single worker, so processing is strictly one message
// at a time in arrival order. A full queue blocks Push for up to PushTimeout,
// which holds back the transport callback.
type Queue struct {
	process     ProcessFunc
	pushTimeout time.Duration
	metrics     *metrics.Metrics
	log         logger.Logger

	msgCh    chan Message
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueue creates a queue and starts its worker. ctx is passed to process;
// the worker itself stops only through Stop.
func NewQueue(ctx context.Context, cfg QueueConfig, process ProcessFunc, m *metrics.Metrics, log logger.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = DefaultQueueSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	q := &Queue{
		process:     process,
		pushTimeout: cfg.PushTimeout,
		metrics:     m,
		log:         log.Module("queue"),
		msgCh:       make(chan Message, cfg.Size),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	go q.processLoop(context.WithoutCancel(ctx))
	return q
}

// Push enqueues msg, waiting up to the push timeout for space. It reports
// false when the queue is stopped or stayed full; the message is then
// dropped and its Ack is never called.
func (q *Queue) Push(msg Message) bool {
	select {
	case <-q.stopCh:
		return false
	default:
	}

	select {
	case q.msgCh <- msg:
		return true
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()
	select {
	case q.msgCh <- msg:
		return true
	case <-q.stopCh:
		return false
	case <-timer.C:
		q.metrics.Message(metrics.MessageDropped)
		q.log.Warn("message queue full, dropping message",
			logger.String("message_id", msg.ID),
			logger.String("topic", msg.Topic),
			logger.Duration("waited", q.pushTimeout))
		return false
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.msgCh)
}

// Stop stops accepting messages, processes what is already queued and waits
// for the worker to exit. Safe to call multiple times.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	<-q.done
}

func (q *Queue) processLoop(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case msg := <-q.msgCh:
			q.handle(ctx, msg)
		case <-q.stopCh:
			// Drain remaining messages before exiting
			for {
				select {
				case msg := <-q.msgCh:
					q.handle(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

// handle processes msg and then acknowledges it to its transport. Messages
// that fail or panic are acknowledged too; replaying them would fail again.
func (q *Queue) handle(ctx context.Context, msg Message) {
	q.safeProcess(ctx, msg)
	if msg.Ack != nil {
		msg.Ack()
	}
}

// safeProcess runs process with panic recovery so one bad message cannot
// kill the worker. Panics are reported to Sentry when it is configured.
func (q *Queue) safeProcess(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.Message(metrics.MessagePanic)
			q.log.Error("panic while processing message",
				logger.String("message_id", msg.ID),
				logger.String("topic", msg.Topic),
				logger.String("panic", fmt.Sprint(r)))
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("component", "ingest")
				scope.SetTag("topic", msg.Topic)
				scope.SetTag("message_id", msg.ID)
			})
			hub.Recover(r)
		}
	}()
	if err := q.process(ctx, msg); err != nil {
		q.log.Debug("message processing failed",
			logger.String("message_id", msg.ID),
			logger.Error(err))
	}
}
