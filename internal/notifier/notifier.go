package notifier

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

// Publisher 状态事件的下游
type Publisher interface {
	Publish(ctx context.Context, event models.StatusEvent) error
}

// Notifier 聚合跌倒状态变化通知（边沿触发，无驻留时间）
type Notifier struct {
	publisher       Publisher
	staleClearsFall bool
	now             func() time.Time
	metrics         *metrics.Metrics
	logger          *zap.Logger

	mu          sync.RWMutex
	lastEmitted *bool
}

// New 创建通知器
func New(publisher Publisher, staleClearsFall bool, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{
		publisher:       publisher,
		staleClearsFall: staleClearsFall,
		now:             time.Now,
		metrics:         m,
		logger:          logger,
	}
}

// Observe 计算 anyFalling，首次或变化时发布并返回事件
func (n *Notifier) Observe(ctx context.Context, snapshot models.Snapshot) (models.StatusEvent, bool) {
	falling := snapshot.AnyFalling(n.staleClearsFall)

	n.mu.RLock()
	unchanged := n.lastEmitted != nil && *n.lastEmitted == falling
	n.mu.RUnlock()
	if unchanged {
		return models.StatusEvent{}, false
	}

	event := models.NewStatusEvent(falling, n.now())
	if err := n.publisher.Publish(ctx, event); err != nil {
		// 发布是尽力而为，状态仍然推进，避免每个周期重复推送
		n.logger.Error("Failed to publish status change",
			zap.Bool("falling", falling),
			zap.Error(err),
		)
	}

	n.mu.Lock()
	n.lastEmitted = &falling
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.StatusEmissions.WithLabelValues(strconv.FormatBool(falling)).Inc()
	}
	n.logger.Info("Fall status changed",
		zap.Bool("falling", falling),
		zap.String("event_id", event.EventID),
		zap.Int("sensors", len(snapshot)),
	)
	return event, true
}

// HandleSnapshot 作为轮询器的快照处理器
func (n *Notifier) HandleSnapshot(ctx context.Context, snapshot models.Snapshot) {
	n.Observe(ctx, snapshot)
}

// Last 最近一次发布的值；known 为 false 表示还没有发布过
func (n *Notifier) Last() (falling bool, known bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.lastEmitted == nil {
		return false, false
	}
	return *n.lastEmitted, true
}
