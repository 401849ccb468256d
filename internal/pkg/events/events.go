// Package events 投递领域事件：配置了 Kafka brokers 时写入 Kafka，否则追加到 Redis Stream。
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"civicvoice/internal/pkg/metrics"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// 事件类型。
const (
	UserRegistered        = "user.registered"
	UserActivated         = "user.activated"
	FeedbackSubmitted     = "feedback.submitted"
	FeedbackStatusChanged = "feedback.status_changed"
)

// Event 事件信封。
type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"-"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Publisher 事件发布接口。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// KafkaPublisher 同步生产者，每种事件写入 "<prefix>.<type>" 主题，以 Key 分区。
type KafkaPublisher struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewProducerConfig 返回发布端使用的 sarama 配置。
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.ClientID = "civicvoice-api"
	return cfg
}

// NewKafkaPublisher 连接 brokers。
func NewKafkaPublisher(brokers []string, prefix string, logger *slog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, prefix, logger), nil
}

// NewKafkaPublisherWithProducer 使用已有 producer 构建发布器。
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, prefix string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		producer: producer,
		prefix:   prefix,
		logger:   logger,
		now:      time.Now,
	}
}

// Topic 返回事件类型对应的主题名。
func (p *KafkaPublisher) Topic(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.Topic(evt.Type),
		Value: sarama.ByteEncoder(payload),
	}
	if evt.Key != "" {
		msg.Key = sarama.StringEncoder(evt.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "failed").Inc()
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "sent").Inc()
	p.logger.Debug("event published",
		slog.String("type", evt.Type),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
