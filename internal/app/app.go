// Package app assembles coldwatch from its settings and supervises the
// long-running components.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/coldwatch/coldwatch/internal/alerting"
	api "github.com/coldwatch/coldwatch/internal/api/v1"
	"github.com/coldwatch/coldwatch/internal/commands"
	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/ingest"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/notification"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
)

const sentryFlushTimeout = 2 * time.Second

// Source is an ingest transport that also names its subscription filter.
type Source interface {
	ingest.Source
	Topic() string
}

// App holds the components shared by every command.
type App struct {
	Settings *conf.Settings
	Store    datastore.Manager

	Devices      repository.DeviceRepository
	Measurements repository.MeasurementRepository
	Tickets      repository.TicketRepository
	Rules        repository.AlertRuleRepository
	Cursors      repository.CursorRepository

	Metrics    *metrics.Metrics
	Dispatcher *notification.Dispatcher
	Machine    *alerting.Machine
	Scheduler  *alerting.Scheduler

	log logger.Logger
}

// New opens and migrates the database and builds the alerting core.
func New(settings *conf.Settings, log logger.Logger) (*App, error) {
	store, err := datastore.NewManager(settings.Database, log)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}

	db := store.DB()
	a := &App{
		Settings:     settings,
		Store:        store,
		Devices:      repository.NewDeviceRepository(db),
		Measurements: repository.NewMeasurementRepository(db),
		Tickets:      repository.NewTicketRepository(db),
		Rules:        repository.NewAlertRuleRepository(db),
		Cursors:      repository.NewCursorRepository(db),
		Metrics:      metrics.New(),
		log:          log,
	}
	a.Dispatcher = notification.NewDispatcher(notification.ConfigFromSettings(settings), nil, log.Module("notification"))
	a.Machine, a.Scheduler = alerting.Initialize(settings, a.Tickets, a.Dispatcher, a.Metrics, log.Module("alerting"))
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.Store.Close()
}

// SourceFor builds the transport selected by transport.kind.
func SourceFor(settings *conf.Settings, log logger.Logger) (Source, error) {
	if err := settings.ValidateTransport(); err != nil {
		return nil, err
	}
	switch settings.Transport.Kind {
	case conf.TransportKafka:
		return ingest.NewKafkaSource(settings.Transport.Kafka, log.Module("kafka")), nil
	default:
		return ingest.NewMQTTSource(settings.Transport.MQTT, log.Module("mqtt")), nil
	}
}

// Serve runs ingestion, the reminder scheduler, the HTTP API and, when
// enabled, the Telegram poller until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context, source Source) error {
	s := a.Settings
	var handler *commands.Handler
	if s.Commands.Enabled {
		if err := s.ValidateCommands(); err != nil {
			return err
		}
		handler = a.commandHandler()
	}

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		TopicPattern:   source.Topic(),
		Margin:         s.Classification.Margin,
		DefaultMinTemp: s.Classification.DefaultMinTemp,
		DefaultMaxTemp: s.Classification.DefaultMaxTemp,
	}, a.Devices, a.Measurements, a.Rules, a.Machine, a.Metrics, a.log)
	queue := ingest.NewQueue(ctx, ingest.QueueConfig{
		Size:        s.Transport.QueueSize,
		PushTimeout: s.Transport.PushTimeout.Std(),
	}, pipeline.Handle, a.Metrics, a.log)
	consumer := ingest.NewConsumer(source, queue, ingest.ConsumerConfig{
		ReconnectDelay:       s.Transport.ReconnectDelay.Std(),
		MaxReconnectAttempts: s.Transport.MaxReconnectAttempts,
	}, a.Metrics, a.log)

	g, gctx := errgroup.WithContext(ctx)

	if err := a.Scheduler.Start(gctx); err != nil {
		queue.Stop()
		return err
	}
	a.Scheduler.StartHistoryCleanup(gctx, s.Alerting.HistoryRetentionDays)

	g.Go(func() error {
		err := consumer.Run(gctx)
		queue.Stop()
		return err
	})

	if s.API.Enabled {
		ctrl := api.New(api.Deps{
			DB:           a.Store.DB(),
			Machine:      a.Machine,
			Devices:      a.Devices,
			Measurements: a.Measurements,
			Tickets:      a.Tickets,
			Rules:        a.Rules,
			Dispatcher:   a.Dispatcher,
			Commands:     handler,
			Invalidator:  pipeline,
			Metrics:      a.Metrics,
		}, a.log)
		g.Go(func() error { return ctrl.Run(gctx, s.API.Listen) })
	}

	if handler != nil {
		poller := a.poller(handler)
		g.Go(func() error { return poller.Run(gctx) })
	}

	a.log.Info("coldwatch serving",
		logger.String("transport", source.Name()),
		logger.String("topic", source.Topic()),
		logger.String("database", a.Store.Dialect()),
		logger.Bool("api", s.API.Enabled),
		logger.Bool("commands", handler != nil))

	err := g.Wait()
	a.Scheduler.Stop()
	queue.Stop()
	if err != nil {
		return err
	}
	a.log.Info("coldwatch stopped")
	return nil
}

// RunBot runs only the Telegram command poller.
func (a *App) RunBot(ctx context.Context) error {
	if err := a.Settings.ValidateCommands(); err != nil {
		return err
	}
	a.log.Info("telegram command bot starting")
	return a.poller(a.commandHandler()).Run(ctx)
}

func (a *App) commandHandler() *commands.Handler {
	return commands.NewHandler(a.Machine, a.Tickets, a.Measurements, a.Dispatcher, a.Dispatcher, a.log)
}

func (a *App) poller(handler *commands.Handler) *commands.Poller {
	cfg := a.Settings.Commands
	timeout := time.Duration(cfg.PollTimeout) * time.Second
	if timeout <= 0 {
		timeout = commands.DefaultPollTimeout
	}
	client := commands.NewBotClient(cfg.APIBase, a.Settings.Notification.BotToken, timeout)
	return commands.NewPoller(client, handler, a.Cursors, timeout, a.log)
}

// InitSentry enables panic reporting when a DSN is configured. The returned
// function flushes buffered events and is always safe to call.
func InitSentry(settings conf.SentrySettings, release string) (func(), error) {
	if settings.DSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         settings.DSN,
		Environment: settings.Environment,
		Release:     release,
	})
	if err != nil {
		return func() {}, errors.Config("sentry init", fmt.Errorf("invalid sentry.dsn: %w", err))
	}
	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}
