package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const commitTimeout = 5 * time.Second

// kafkaReader is the part of *kafka.Reader the source uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes telemetry from a Kafka topic with a consumer group.
// The message key, when set, names the device.
type KafkaSource struct {
	settings  conf.KafkaSettings
	log       logger.Logger
	newReader func(kafka.ReaderConfig) kafkaReader
}

// NewKafkaSource creates a Kafka source.
func NewKafkaSource(settings conf.KafkaSettings, log logger.Logger) *KafkaSource {
	return &KafkaSource{
		settings: settings,
		log:      log.Module("kafka"),
		newReader: func(cfg kafka.ReaderConfig) kafkaReader {
			return kafka.NewReader(cfg)
		},
	}
}

func (s *KafkaSource) Name() string { return "kafka" }

// Topic returns the consumed topic.
func (s *KafkaSource) Topic() string { return s.settings.Topic }

func (s *KafkaSource) Run(ctx context.Context, handle Handler) error {
	if len(s.settings.Brokers) == 0 {
		return errors.Config("kafka source", fmt.Errorf("no brokers configured"))
	}
	reader := s.newReader(kafka.ReaderConfig{
		Brokers:  s.settings.Brokers,
		GroupID:  s.settings.GroupID,
		Topic:    s.settings.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			s.log.Warn("failed to close kafka reader", logger.Error(err))
		}
	}()

	s.log.Info("kafka consumer started",
		logger.String("brokers", strings.Join(s.settings.Brokers, ",")),
		logger.String("topic", s.settings.Topic),
		logger.String("group", s.settings.GroupID))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Transport("kafka fetch", fmt.Errorf("failed to fetch message: %w", err))
		}

		received := msg.Time.UTC()
		if msg.Time.IsZero() {
			received = time.Now().UTC()
		}
		accepted := handle(Message{
			ID:         uuid.NewString(),
			Topic:      msg.Topic,
			Key:        string(msg.Key),
			Payload:    msg.Value,
			ReceivedAt: received,
			Ack:        s.committer(ctx, reader, msg),
		})
		if !accepted {
			if ctx.Err() != nil {
				return nil
			}
			// End the session so the group resumes from the last committed offset.
			return errors.Transport("kafka deliver", fmt.Errorf("message at offset %d of partition %d was not queued", msg.Offset, msg.Partition))
		}
	}
}

// committer returns an Ack that commits msg once it has been processed.
func (s *KafkaSource) committer(ctx context.Context, reader kafkaReader, msg kafka.Message) func() {
	commitCtx := context.WithoutCancel(ctx)
	return func() {
		cctx, cancel := context.WithTimeout(commitCtx, commitTimeout)
		defer cancel()
		if err := reader.CommitMessages(cctx, msg); err != nil {
			s.log.Warn("failed to commit kafka offset",
				logger.Int64("offset", msg.Offset),
				logger.Int("partition", msg.Partition),
				logger.Error(err))
		}
	}
}
