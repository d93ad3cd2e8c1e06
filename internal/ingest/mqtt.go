package ingest

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const (
	defaultConnectTimeout = 10 * time.Second
	mqttKeepAlive         = 60 * time.Second
	// disconnectQuiesceMs lets in-flight work finish on a clean disconnect.
	disconnectQuiesceMs = 250
)

// MQTTSource subscribes to the telemetry topic on an MQTT broker. Automatic
// reconnection is off: a lost connection ends Run and the Consumer decides
// when to try again.
type MQTTSource struct {
	settings conf.MQTTSettings
	log      logger.Logger
}

// NewMQTTSource creates an MQTT source.
func NewMQTTSource(settings conf.MQTTSettings, log logger.Logger) *MQTTSource {
	if settings.ConnectTimeout.Std() <= 0 {
		settings.ConnectTimeout = conf.Duration(defaultConnectTimeout)
	}
	return &MQTTSource{settings: settings, log: log.Module("mqtt")}
}

func (s *MQTTSource) Name() string { return "mqtt" }

// Topic returns the subscription filter.
func (s *MQTTSource) Topic() string { return s.settings.Topic }

// clientOptions builds the paho options for one session.
func (s *MQTTSource) clientOptions(lost chan<- error) *paho.ClientOptions {
	clientID := s.settings.ClientID
	if clientID == "" {
		clientID = "coldwatch"
	}
	clientID = fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8])

	opts := paho.NewClientOptions().
		AddBroker(s.settings.BrokerURL()).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetKeepAlive(mqttKeepAlive).
		SetConnectTimeout(s.settings.ConnectTimeout.Std()).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})
	if s.settings.Username != "" {
		opts.SetUsername(s.settings.Username)
		opts.SetPassword(s.settings.Password)
	}
	return opts
}

func (s *MQTTSource) Run(ctx context.Context, handle Handler) error {
	lost := make(chan error, 1)
	client := paho.NewClient(s.clientOptions(lost))

	s.log.Info("connecting to MQTT broker",
		logger.String("broker", s.settings.BrokerURL()),
		logger.String("topic", s.settings.Topic))
	if err := waitToken(ctx, client.Connect(), s.settings.ConnectTimeout.Std()); err != nil {
		return errors.Transport("mqtt connect", fmt.Errorf("failed to connect to %s: %w", s.settings.BrokerURL(), err))
	}

	onMessage := func(_ paho.Client, m paho.Message) {
		if !handle(Message{
			ID:         uuid.NewString(),
			Topic:      m.Topic(),
			Payload:    m.Payload(),
			ReceivedAt: time.Now().UTC(),
		}) {
			s.log.Debug("message not queued", logger.String("topic", m.Topic()))
		}
	}
	if err := waitToken(ctx, client.Subscribe(s.settings.Topic, s.settings.QoS, onMessage), s.settings.ConnectTimeout.Std()); err != nil {
		client.Disconnect(disconnectQuiesceMs)
		return errors.Transport("mqtt subscribe", fmt.Errorf("failed to subscribe to %s: %w", s.settings.Topic, err))
	}
	s.log.Info("subscribed to telemetry topic",
		logger.String("topic", s.settings.Topic),
		logger.Int("qos", int(s.settings.QoS)))

	select {
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesceMs)
		s.log.Info("disconnected from MQTT broker")
		return nil
	case err := <-lost:
		return errors.Transport("mqtt session", fmt.Errorf("connection lost: %w", err))
	}
}

// waitToken waits for a paho token under ctx and timeout.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
