package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"warden/internal/config"
	"warden/internal/constants"
	"warden/internal/logger"
	"warden/pkg/retry"
)

const kafkaMessageMetaKey = "kafka_message"

// KafkaAdapter implements QueueAdapter over one Kafka topic with a consumer
// group. Ack commits the offset; Nack(requeue=true) republishes to the
// source topic before committing so the partition is never blocked.
type KafkaAdapter struct {
	cfg      config.KafkaConfig
	queue    string
	group    string
	logger   logger.Logger
	reader   *kafka.Reader
	writer   *kafka.Writer
	mu       sync.Mutex
	consumed bool
}

func NewKafkaAdapter(cfg config.KafkaConfig, queue, consumerGroup string, log logger.Logger) *KafkaAdapter {
	return &KafkaAdapter{
		cfg:    cfg,
		queue:  queue,
		group:  consumerGroup,
		logger: log,
	}
}

func (a *KafkaAdapter) Connect(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}

	err := retry.Retry(ctx, policy, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, constants.KafkaDialTimeout)
		defer cancel()

		conn, dialErr := kafka.DialContext(dialCtx, "tcp", a.cfg.Brokers[0])
		if dialErr != nil {
			return dialErr
		}
		return conn.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to connect to kafka brokers %v: %w", a.cfg.Brokers, err)
	}

	a.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  a.cfg.Brokers,
		GroupID:  a.group,
		Topic:    a.queue,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	a.writer = &kafka.Writer{
		Addr:         kafka.TCP(a.cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}

	return nil
}

func (a *KafkaAdapter) Consume(ctx context.Context) (<-chan RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return nil, fmt.Errorf("kafka adapter is not connected")
	}
	if a.consumed {
		return nil, fmt.Errorf("kafka adapter is already consuming")
	}
	a.consumed = true

	out := make(chan RawMessage)

	go func() {
		defer close(out)
		for {
			m, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// the reader reports closed-pipe or EOF once Close ran
				if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
					return
				}
				a.logger.ErrorwCtx(ctx, "Error fetching kafka message",
					"error", err,
					"topic", a.queue,
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			headers := make(map[string]string, len(m.Headers))
			for _, h := range m.Headers {
				headers[h.Key] = string(h.Value)
			}

			raw := RawMessage{
				MessageID: fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
				Body:      m.Value,
				Headers:   headers,
				Timestamp: m.Time,
				BrokerMeta: map[string]interface{}{
					kafkaMessageMetaKey: m,
					"partition":         m.Partition,
					"offset":            m.Offset,
				},
			}
			if key := string(m.Key); key != "" {
				raw.MessageID = key
			}

			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (a *KafkaAdapter) Ack(ctx context.Context, msg RawMessage) error {
	m, err := a.kafkaMessage(msg)
	if err != nil {
		return err
	}
	if err := a.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit kafka message: %w", err)
	}
	return nil
}

func (a *KafkaAdapter) Nack(ctx context.Context, msg RawMessage, requeue bool) error {
	m, err := a.kafkaMessage(msg)
	if err != nil {
		return err
	}

	if requeue {
		republish := kafka.Message{
			Topic:   a.queue,
			Key:     m.Key,
			Value:   m.Value,
			Headers: m.Headers,
			Time:    time.Now(),
		}
		if err := a.writer.WriteMessages(ctx, republish); err != nil {
			return fmt.Errorf("failed to requeue kafka message: %w", err)
		}
	}

	// Kafka has no reject; dropping means committing the offset.
	if err := a.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit kafka message after nack: %w", err)
	}
	return nil
}

func (a *KafkaAdapter) SendToDLQ(ctx context.Context, msg RawMessage, reason string) error {
	if a.cfg.DLQTopic == "" {
		a.logger.WarnwCtx(ctx, "No DLQ topic configured, committing message to avoid blocking",
			"topic", a.queue,
			"reason", reason,
		)
		return a.Ack(ctx, msg)
	}

	m, err := a.kafkaMessage(msg)
	if err != nil {
		return err
	}

	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: constants.DLQReasonHeader, Value: []byte(reason)},
		kafka.Header{Key: constants.DLQSourceHeader, Value: []byte(a.queue)},
		kafka.Header{Key: constants.DLQTimestampHeader, Value: []byte(time.Now().Format(time.RFC3339))},
	)

	dlqMsg := kafka.Message{
		Topic:   a.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    time.Now(),
	}
	if err := a.writer.WriteMessages(ctx, dlqMsg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	if err := a.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit kafka message after DLQ: %w", err)
	}

	a.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", a.queue,
		"dlq_topic", a.cfg.DLQTopic,
		"reason", reason,
	)
	return nil
}

func (a *KafkaAdapter) Close() error {
	var err error
	if a.reader != nil {
		err = a.reader.Close()
	}
	if a.writer != nil {
		if closeErr := a.writer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (a *KafkaAdapter) HealthCheck(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, constants.KafkaDialTimeout)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", a.cfg.Brokers[0])
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (a *KafkaAdapter) kafkaMessage(msg RawMessage) (kafka.Message, error) {
	m, ok := msg.BrokerMeta[kafkaMessageMetaKey].(kafka.Message)
	if !ok {
		return kafka.Message{}, fmt.Errorf("message %s carries no kafka delivery metadata", msg.MessageID)
	}
	return m, nil
}
