package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// fakeReader serves queued messages, then blocks until ctx is done or
// returns failAfter once the queue is empty.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	failAfter error
	closed    bool
	cfg       kafka.ReaderConfig
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	fail := r.failAfter
	r.mu.Unlock()
	if fail != nil {
		return kafka.Message{}, fail
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func newFakeKafkaSource(reader *fakeReader, settings conf.KafkaSettings) *KafkaSource {
	s := NewKafkaSource(settings, testLogger())
	s.newReader = func(cfg kafka.ReaderConfig) kafkaReader {
		reader.cfg = cfg
		return reader
	}
	return s
}

func TestKafkaSource_DeliversAndCommits(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{
		msgs: []kafka.Message{
			{Topic: "coldchain.telemetry", Key: []byte("F1"), Value: []byte(`{"tempC":4}`), Offset: 10, Time: ts},
			{Topic: "coldchain.telemetry", Value: []byte(`{"deviceId":"F2","tempC":5}`), Offset: 11},
		},
		failAfter: errors.NewPlain("broker went away"),
	}
	src := newFakeKafkaSource(reader, conf.KafkaSettings{
		Brokers: []string{"localhost:9092"},
		Topic:   "coldchain.telemetry",
		GroupID: "coldwatch",
	})

	var got []Message
	err := src.Run(t.Context(), func(m Message) bool {
		got = append(got, m)
		return true
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))

	require.Len(t, got, 2)
	assert.Equal(t, "F1", got[0].Key)
	assert.True(t, ts.Equal(got[0].ReceivedAt))
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[1].ReceivedAt.IsZero())
	assert.Empty(t, reader.committed, "offsets wait for processing")

	for _, m := range got {
		require.NotNil(t, m.Ack)
		m.Ack()
	}
	assert.Equal(t, []int64{10, 11}, reader.committed)
	assert.True(t, reader.closed)
	assert.Equal(t, "coldwatch", reader.cfg.GroupID)
	assert.Equal(t, []string{"localhost:9092"}, reader.cfg.Brokers)
}

func TestKafkaSource_StopsOnContext(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	src := newFakeKafkaSource(reader, conf.KafkaSettings{Brokers: []string{"b:9092"}, Topic: "t", GroupID: "g"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, src.Run(ctx, func(Message) bool { return true }))
	assert.True(t, reader.closed)
}

func TestKafkaSource_RequiresBrokers(t *testing.T) {
	t.Parallel()

	err := NewKafkaSource(conf.KafkaSettings{Topic: "t"}, testLogger()).Run(t.Context(), func(Message) bool { return true })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestKafkaSource_RejectedMessageEndsSession(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "t", Value: []byte(`{"tempC":4}`), Offset: 20},
		{Topic: "t", Value: []byte(`{"tempC":5}`), Offset: 21},
		{Topic: "t", Value: []byte(`{"tempC":6}`), Offset: 22},
	}}
	src := newFakeKafkaSource(reader, conf.KafkaSettings{Brokers: []string{"b:9092"}, Topic: "t", GroupID: "g"})

	var got []Message
	err := src.Run(t.Context(), func(m Message) bool {
		got = append(got, m)
		return m.Payload[len(m.Payload)-2] != '5'
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.Contains(t, err.Error(), "offset 21")

	require.Len(t, got, 2, "fetching stops at the rejected message")
	got[0].Ack()
	assert.Equal(t, []int64{20}, reader.committed)
	assert.True(t, reader.closed)
}

func TestKafkaSource_CommitsAfterQueueProcessing(t *testing.T) {
	defer verifyNoLeaks(t)

	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "t", Value: []byte(`{"tempC":4}`), Offset: 30},
		{Topic: "t", Value: []byte(`{"tempC":5}`), Offset: 31},
	}}
	src := newFakeKafkaSource(reader, conf.KafkaSettings{Brokers: []string{"b:9092"}, Topic: "t", GroupID: "g"})

	release := make(chan struct{})
	q := NewQueue(t.Context(), QueueConfig{Size: 10}, func(context.Context, Message) error {
		<-release
		return nil
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, q.Push) }()

	require.Eventually(t, func() bool { return q.Len() >= 1 }, time.Second, time.Millisecond)
	reader.mu.Lock()
	assert.Empty(t, reader.committed)
	reader.mu.Unlock()

	close(release)
	cancel()
	require.NoError(t, <-done)
	q.Stop()

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, []int64{30, 31}, reader.committed)
}
