package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"civicvoice/internal/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream 未配置 Kafka 时事件写入的 Redis Stream。
	DefaultStream = "civicvoice:events"
	// DefaultStreamMaxLen Stream 近似保留的最大条数。
	DefaultStreamMaxLen = 100000
)

// Record 从 Stream 读回的一条事件。
type Record struct {
	ID         string          `json:"id"` // Redis Stream 消息 ID
	Type       string          `json:"type"`
	Key        string          `json:"key,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// StreamPublisher 使用 XADD 把事件追加到 Redis Stream。
//
// 每条消息包含 type、key 与 data（JSON 信封）三个字段。Close 不关闭 Redis 客户端。
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
	now    func() time.Time
}

// NewStreamPublisher 创建 Stream 发布器，stream 为空时使用 DefaultStream。
func NewStreamPublisher(rdb *redis.Client, stream string, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPublisher{
		rdb:    rdb,
		stream: stream,
		maxLen: DefaultStreamMaxLen,
		logger: logger,
		now:    time.Now,
	}
}

// Stream 返回 Stream 名称。
func (p *StreamPublisher) Stream() string {
	return p.stream
}

func (p *StreamPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msgID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": evt.Type,
			"key":  evt.Key,
			"data": string(payload),
		},
	}).Result()
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "failed").Inc()
		return fmt.Errorf("xadd %s: %w", evt.Type, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "sent").Inc()
	p.logger.Debug("event appended",
		slog.String("stream", p.stream),
		slog.String("type", evt.Type),
		slog.String("msg_id", msgID))
	return nil
}

// Recent 按时间倒序返回最近 n 条事件，无法解析的消息会被跳过并记录警告。
func (p *StreamPublisher) Recent(ctx context.Context, n int64) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	msgs, err := p.rdb.XRevRangeN(ctx, p.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}

	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			p.logger.Warn("invalid event message", slog.String("msg_id", msg.ID))
			continue
		}
		var env struct {
			Type       string          `json:"type"`
			OccurredAt time.Time       `json:"occurred_at"`
			Data       json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			p.logger.Warn("parse event message failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", err.Error()))
			continue
		}
		key, _ := msg.Values["key"].(string)
		records = append(records, Record{
			ID:         msg.ID,
			Type:       env.Type,
			Key:        key,
			OccurredAt: env.OccurredAt,
			Data:       env.Data,
		})
	}
	return records, nil
}

// Len 返回 Stream 当前长度。
func (p *StreamPublisher) Len(ctx context.Context) (int64, error) {
	n, err := p.rdb.XLen(ctx, p.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return n, nil
}

func (p *StreamPublisher) Close() error { return nil }
