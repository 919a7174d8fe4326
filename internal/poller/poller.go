package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"go.uber.org/zap"
)

// SnapshotHandler 每个轮询周期收到一份快照
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, snapshot models.Snapshot)
}

// SnapshotHandlerFunc 函数适配器
type SnapshotHandlerFunc func(ctx context.Context, snapshot models.Snapshot)

// HandleSnapshot 调用 f
func (f SnapshotHandlerFunc) HandleSnapshot(ctx context.Context, snapshot models.Snapshot) {
	f(ctx, snapshot)
}

// Poller 带新鲜度判断的状态轮询器
type Poller struct {
	store    repository.SensorStateStore
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New 创建轮询器；now 为 nil 时使用 time.Now
func New(
	store repository.SensorStateStore,
	interval, window time.Duration,
	now func() time.Time,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{
		store:    store,
		interval: interval,
		window:   window,
		now:      now,
		metrics:  m,
		logger:   logger,
	}
}

// Poll 读取所有已知传感器的状态并计算新鲜度
// 单个传感器读取失败只让它本周期缺席；列举失败、所有读取都失败或 ctx 取消时返回错误，本周期作废
func (p *Poller) Poll(ctx context.Context) (models.Snapshot, error) {
	ids, err := p.store.KnownSensorIDs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.countReadError()
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	snapshot := make(models.Snapshot, len(ids))
	now := p.now()
	var readErr error
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, err := p.store.ReadState(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrStateNotFound):
				p.logger.Debug("No state for sensor", zap.Int("sensor_id", id))
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				p.logger.Warn("Failed to read sensor state",
					zap.Int("sensor_id", id),
					zap.Error(err),
				)
				p.countReadError()
				if !errors.Is(err, repository.ErrCorruptRecord) {
					readErr = err
					failed++
				}
			}
			continue
		}
		snapshot[id] = models.NewSnapshotEntry(*state, now, p.window)
	}

	if failed > 0 && failed == len(ids) {
		return nil, fmt.Errorf("read sensors: %w", readErr)
	}

	p.observe(snapshot)
	return snapshot, nil
}

// Run 立即执行一次，之后每个 interval 执行一次，直到 ctx 取消
func (p *Poller) Run(ctx context.Context, handlers ...SnapshotHandler) error {
	p.logger.Info("Poller started",
		zap.Duration("poll_interval", p.interval),
		zap.Duration("staleness_window", p.window),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle(ctx, handlers)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
			p.cycle(ctx, handlers)
		}
	}
}

func (p *Poller) cycle(ctx context.Context, handlers []SnapshotHandler) {
	if ctx.Err() != nil {
		return
	}
	snapshot, err := p.Poll(ctx)
	if err != nil {
		// 处理器只看到完整周期，存储恢复后下个周期继续
		if ctx.Err() == nil {
			p.logger.Warn("Store unavailable, skipping cycle", zap.Error(err))
		}
		return
	}
	for _, h := range handlers {
		h.HandleSnapshot(ctx, snapshot)
	}
}

func (p *Poller) observe(snapshot models.Snapshot) {
	if p.metrics == nil {
		return
	}
	fresh, stale := 0, 0
	for _, entry := range snapshot {
		if entry.IsFresh {
			fresh++
		} else {
			stale++
		}
	}
	p.metrics.PollCycles.Inc()
	p.metrics.SensorsFresh.Set(float64(fresh))
	p.metrics.SensorsStale.Set(float64(stale))
}

func (p *Poller) countReadError() {
	if p.metrics != nil {
		p.metrics.PollReadErrors.Inc()
	}
}
