package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/observability"
)

// KafkaConfig configures the Kafka producer and consumer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaProducer publishes requests keyed by copytrader ID.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a Kafka producer.
func NewKafkaProducer(cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: writer}
}

// Publish sends a request to the configured topic.
func (p *KafkaProducer) Publish(ctx context.Context, req *domain.CopyTradeRequest) error {
	value, err := encode(req)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(req.CopytraderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(req.RequestID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.RecordQueueError("publish")
		return fmt.Errorf("kafka write: %w", err)
	}
	observability.RecordQueuePublished()
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads requests as members of one consumer group. Each
// Consume call opens its own reader, so N concurrent calls are N group
// members sharing the topic's partitions.
type KafkaConsumer struct {
	cfg KafkaConfig
	log *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

// NewKafkaConsumer creates a Kafka consumer.
func NewKafkaConsumer(cfg KafkaConfig, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaConsumer{cfg: cfg, log: log.Named("kafka_consumer")}
}

func (c *KafkaConsumer) newReader() (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: c.cfg.Brokers,
		GroupID: c.cfg.GroupID,
		Topic:   c.cfg.Topic,
	})
	c.readers = append(c.readers, r)
	return r, nil
}

// Consume fetches, handles, then commits each message. A message is
// committed only after its handler returned nil. Undecodable messages are
// logged and committed so they do not block the partition.
func (c *KafkaConsumer) Consume(ctx context.Context, handler Handler) error {
	reader, err := c.newReader()
	if err != nil {
		return err
	}
	defer c.release(reader)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			observability.RecordQueueError("fetch")
			return fmt.Errorf("kafka read: %w", err)
		}

		req, err := decode(msg.Value)
		if err != nil {
			observability.RecordQueueError("decode")
			c.log.Error("dropping undecodable message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else {
			observability.RecordQueueConsumed()
			if err := handler(ctx, req); err != nil {
				return err
			}
		}

		// Commit with a fresh context: the request was handled even if ctx
		// ended meanwhile.
		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			observability.RecordQueueError("commit")
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// release closes a reader whose Consume call returned, unless Close
// already did.
func (c *KafkaConsumer) release(r *kafka.Reader) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for i, x := range c.readers {
		if x == r {
			c.readers = append(c.readers[:i], c.readers[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := r.Close(); err != nil {
		c.log.Warn("close reader", zap.Error(err))
	}
}

func (c *KafkaConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes every reader opened by Consume.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Producer = (*KafkaProducer)(nil)
	_ Consumer = (*KafkaConsumer)(nil)
)
