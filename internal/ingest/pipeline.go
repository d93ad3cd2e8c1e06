package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/coldwatch/coldwatch/internal/alerting"
	"github.com/coldwatch/coldwatch/internal/classify"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
	"github.com/coldwatch/coldwatch/internal/observability/metrics"
	"github.com/coldwatch/coldwatch/internal/telemetry"
)

const (
	// DefaultCacheTTL bounds how long device and rule lookups are reused.
	DefaultCacheTTL = time.Minute
	// messageTimeout bounds the storage work for one message.
	messageTimeout = 30 * time.Second
)

// Lifecycle applies a classified reading to the device's ticket.
type Lifecycle interface {
	Apply(ctx context.Context, device *entities.Device, state classify.State, now time.Time) (alerting.Outcome, error)
}

// PipelineConfig controls a Pipeline.
type PipelineConfig struct {
	// TopicPattern is the subscription filter; its wildcard segment names
	// the device when the payload does not.
	TopicPattern   string
	Margin         float64
	DefaultMinTemp float64
	DefaultMaxTemp float64
	CacheTTL       time.Duration
}

// Result is what processing one message produced.
type Result struct {
	Reading     *telemetry.Reading
	Device      *entities.Device
	Provisioned bool
	State       classify.State
	Measurement *entities.Measurement
	Outcome     alerting.Outcome
}

// Pipeline turns one raw message into a stored measurement and a ticket
// transition.
type Pipeline struct {
	cfg          PipelineConfig
	normalizer   *telemetry.Normalizer
	devices      repository.DeviceRepository
	measurements repository.MeasurementRepository
	rules        repository.AlertRuleRepository
	lifecycle    Lifecycle
	cache        *cache.Cache
	metrics      *metrics.Metrics
	log          logger.Logger

	// Now is the clock handed to the lifecycle.
	Now func() time.Time
}

// NewPipeline creates a Pipeline. rules may be nil, in which case devices are
// classified by their own bounds only.
func NewPipeline(
	cfg PipelineConfig,
	devices repository.DeviceRepository,
	measurements repository.MeasurementRepository,
	rules repository.AlertRuleRepository,
	lifecycle Lifecycle,
	m *metrics.Metrics,
	log logger.Logger,
) *Pipeline {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Pipeline{
		cfg:          cfg,
		normalizer:   telemetry.NewNormalizer(),
		devices:      devices,
		measurements: measurements,
		rules:        rules,
		lifecycle:    lifecycle,
		cache:        cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		metrics:      m,
		log:          log.Module("pipeline"),
		Now:          time.Now,
	}
}

// Handle processes msg and reports only the error. It is the Queue's ProcessFunc.
func (p *Pipeline) Handle(ctx context.Context, msg Message) error {
	_, err := p.Process(ctx, msg)
	return err
}

// Process runs msg through normalize, provision, classify, store and the
// lifecycle. Every failure is logged and counted here.
func (p *Pipeline) Process(ctx context.Context, msg Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	fallback := DeviceFromTopic(p.cfg.TopicPattern, msg.Topic)
	if fallback == "" {
		fallback = msg.Key
	}
	reading, err := p.normalizer.Normalize(msg.Payload, fallback)
	if err != nil {
		p.metrics.Message(metrics.MessageInvalid)
		p.log.Warn("rejected telemetry message",
			logger.String("message_id", msg.ID),
			logger.String("topic", msg.Topic),
			logger.Error(err))
		return nil, err
	}
	for _, w := range reading.Warnings {
		p.log.Warn("telemetry timestamp replaced",
			logger.String("message_id", msg.ID),
			logger.String("device", reading.DeviceCode),
			logger.String("warning", w))
	}

	res := &Result{Reading: reading}
	res.Device, res.Provisioned, err = p.device(ctx, reading.DeviceCode)
	if err != nil {
		return res, p.fail(msg, "device lookup failed", err)
	}
	rule, err := p.rule(ctx, res.Device.ID)
	if err != nil {
		return res, p.fail(msg, "alert rule lookup failed", err)
	}

	res.State = classify.Evaluate(reading.TempC, res.Device, rule, p.cfg.Margin)
	res.Measurement = &entities.Measurement{
		DeviceID:  res.Device.ID,
		Timestamp: reading.Timestamp,
		TempC:     reading.TempC,
		Humidity:  reading.Humidity,
		State:     string(res.State),
	}
	if err := p.measurements.Create(ctx, res.Measurement); err != nil {
		return res, p.fail(msg, "failed to store measurement", err)
	}

	if !res.Device.IsActive {
		p.metrics.Message(metrics.MessageInactive)
		p.log.Debug("measurement stored for inactive device",
			logger.String("device", res.Device.Code),
			logger.String("state", string(res.State)))
		return res, nil
	}

	res.Outcome, err = p.lifecycle.Apply(ctx, res.Device, res.State, p.Now())
	if err != nil {
		return res, p.fail(msg, "ticket lifecycle failed", err)
	}

	p.metrics.Message(metrics.MessageStored)
	p.log.Debug("telemetry ingested",
		logger.String("message_id", msg.ID),
		logger.String("device", res.Device.Code),
		logger.Float64("temp_c", reading.TempC),
		logger.String("state", string(res.State)),
		logger.String("action", res.Outcome.Action))
	return res, nil
}

func (p *Pipeline) fail(msg Message, what string, err error) error {
	p.metrics.Message(metrics.MessageFailed)
	p.log.Error(what,
		logger.String("message_id", msg.ID),
		logger.String("topic", msg.Topic),
		logger.Error(err))
	return err
}

// device returns the device with code, provisioning it with the default
// bounds when it is unknown.
func (p *Pipeline) device(ctx context.Context, code string) (*entities.Device, bool, error) {
	key := "device:" + code
	if v, ok := p.cache.Get(key); ok {
		return v.(*entities.Device), false, nil
	}
	device, created, err := p.devices.GetOrCreate(ctx, &entities.Device{
		Code:     code,
		IsActive: true,
		MinTemp:  p.cfg.DefaultMinTemp,
		MaxTemp:  p.cfg.DefaultMaxTemp,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		p.log.Info("device auto-provisioned",
			logger.String("device", code),
			logger.Float64("min_temp", device.MinTemp),
			logger.Float64("max_temp", device.MaxTemp))
	}
	p.cache.SetDefault(key, device)
	return device, created, nil
}

// rule returns the device's alert rule, or nil when it has none.
func (p *Pipeline) rule(ctx context.Context, deviceID uint) (*entities.AlertRule, error) {
	if p.rules == nil {
		return nil, nil
	}
	key := "rule:" + strconv.FormatUint(uint64(deviceID), 10)
	if v, ok := p.cache.Get(key); ok {
		return v.(*entities.AlertRule), nil
	}
	rule, err := p.rules.GetByDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrAlertRuleNotFound) {
		rule, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.cache.SetDefault(key, rule)
	return rule, nil
}

// Invalidate drops cached lookups for a device so the next message reloads
// its bounds and rule.
func (p *Pipeline) Invalidate(device *entities.Device) {
	p.cache.Delete("device:" + device.Code)
	p.cache.Delete("rule:" + strconv.FormatUint(uint64(device.ID), 10))
}
