package broadcast

import (
	"context"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

// Publisher 把状态事件推送给某一类订阅方
type Publisher interface {
	Publish(ctx context.Context, event models.StatusEvent) error
}

// NamedPublisher 带名称的发布者（用于日志和指标标签）
type NamedPublisher struct {
	Name      string
	Publisher Publisher
}

// Hub 扇出到多个发布者；单个发布者失败只记录，不影响其它发布者
type Hub struct {
	publishers []NamedPublisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewHub 创建扇出
func NewHub(m *metrics.Metrics, logger *zap.Logger, publishers ...NamedPublisher) *Hub {
	return &Hub{
		publishers: publishers,
		metrics:    m,
		logger:     logger,
	}
}

// Add 追加发布者（仅在启动阶段调用）
func (h *Hub) Add(name string, p Publisher) {
	h.publishers = append(h.publishers, NamedPublisher{Name: name, Publisher: p})
}

// Names 已注册的发布者名称
func (h *Hub) Names() []string {
	names := make([]string, 0, len(h.publishers))
	for _, p := range h.publishers {
		names = append(names, p.Name)
	}
	return names
}

// Publish 依次发布，总是返回 nil
func (h *Hub) Publish(ctx context.Context, event models.StatusEvent) error {
	for _, p := range h.publishers {
		if err := p.Publisher.Publish(ctx, event); err != nil {
			h.logger.Error("Failed to publish status event",
				zap.String("publisher", p.Name),
				zap.String("event_id", event.EventID),
				zap.Bool("falling", event.Falling),
				zap.Error(err),
			)
			if h.metrics != nil {
				h.metrics.PublishErrors.WithLabelValues(p.Name).Inc()
			}
		}
	}
	return nil
}
