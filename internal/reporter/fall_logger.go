package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

// FallSink 跌倒记录的落地位置
type FallSink interface {
	Name() string
	WriteFall(ctx context.Context, record models.FallRecord) error
}

// FallEventLogger 把新鲜的跌倒状态写入各 sink
// 同一传感器同一观测时间只记录一次（状态在 Redis 中保持不变时轮询会反复读到）
type FallEventLogger struct {
	sinks   []FallSink
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu         sync.Mutex
	lastLogged map[int]time.Time
}

// NewFallEventLogger 创建跌倒记录器
func NewFallEventLogger(m *metrics.Metrics, logger *zap.Logger, sinks ...FallSink) *FallEventLogger {
	return &FallEventLogger{
		sinks:      sinks,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
		lastLogged: make(map[int]time.Time),
	}
}

// HandleSnapshot 检查快照中的跌倒并记录
func (l *FallEventLogger) HandleSnapshot(ctx context.Context, snapshot models.Snapshot) {
	for _, id := range snapshot.SensorIDs() {
		entry := snapshot[id]
		if !entry.IsFalling || !entry.IsFresh {
			continue
		}
		if !l.markLogged(id, entry.ObservedAt) {
			continue
		}

		record := models.NewFallRecord(entry.ClassifiedState, l.now())
		l.logger.Warn("Fall detected",
			zap.Int("sensor_id", record.SensorID),
			zap.String("ip", record.SourceAddress),
			zap.Float64("fall_index", record.GyroMagnitude),
			zap.Time("observed_at", record.ObservedAt),
		)

		for _, sink := range l.sinks {
			if err := sink.WriteFall(ctx, record); err != nil {
				l.logger.Error("Failed to write fall record",
					zap.String("sink", sink.Name()),
					zap.Int("sensor_id", record.SensorID),
					zap.Error(err),
				)
			}
		}
		if l.metrics != nil {
			l.metrics.FallsLogged.Inc()
		}
	}
}

// markLogged 返回 false 表示该观测已经记录过
func (l *FallEventLogger) markLogged(sensorID int, observedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastLogged[sensorID]; ok && last.Equal(observedAt) {
		return false
	}
	l.lastLogged[sensorID] = observedAt
	return true
}
