package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// KafkaProducer publishes keyed messages. The hash balancer keeps every
// message for one key on one partition.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		ErrorLogger:            kafkaLogger(logger, "kafka_writer"),
	}}
}

func (p *KafkaProducer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", p.w.Topic, err)
	}
	return nil
}

func (p *KafkaProducer) Close() error { return p.w.Close() }

// KafkaConsumer reads as a member of a consumer group. Offsets are committed
// explicitly, never on fetch.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewKafkaConsumer(brokers []string, topic, group string, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafkaLogger(logger, "kafka_reader"),
	})}
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	return Message{
		Topic:     m.Topic,
		Key:       string(m.Key),
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Time,
	}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, kafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	})
}

func (c *KafkaConsumer) Close() error { return c.r.Close() }

// PingKafka dials every broker and reports the ones that did not answer.
func PingKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var errs error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dial %s: %w", b, err))
			continue
		}
		errs = multierr.Append(errs, conn.Close())
	}
	return errs
}

func kafkaLogger(logger *zap.Logger, name string) kafka.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := logger.Named(name).Sugar()
	return kafka.LoggerFunc(func(msg string, args ...interface{}) {
		s.Warnf(msg, args...)
	})
}
