package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	commonredis "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MQTTClient common/mqtt.Client 的发布能力
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 以 retained 消息发布到 MQTT，订阅方上线即拿到当前状态
type MQTTPublisher struct {
	client MQTTClient
	topic  string
	qos    byte
}

// NewMQTTPublisher 创建 MQTT 发布者
func NewMQTTPublisher(client MQTTClient, topic string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos}
}

// Publish 发布状态事件
func (p *MQTTPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}
	return p.client.Publish(p.topic, p.qos, true, payload)
}

// StreamPublisher 追加到 Redis Stream，保留状态变化历史
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher 创建 Stream 发布者
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish 写入 Stream
func (p *StreamPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	if _, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, event); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", p.stream, err)
	}
	return nil
}

// WebhookPublisher POST JSON 到外部地址
type WebhookPublisher struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookPublisher 创建 webhook 发布者
func NewWebhookPublisher(url string, timeout time.Duration, logger *zap.Logger) *WebhookPublisher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookPublisher{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Publish 发送状态事件
func (p *WebhookPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	p.logger.Debug("Webhook delivered",
		zap.String("event_id", event.EventID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
