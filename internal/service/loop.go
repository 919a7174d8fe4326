package service

import (
	"context"
	"sync"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"

	"go.uber.org/zap"
)

// loop 后台循环的启停控制：Stop 取消并等待当前周期结束，可重复调用
type loop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (l *loop) start(ctx context.Context, run func(ctx context.Context) error, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		if err := run(runCtx); err != nil {
			logger.Error("Background loop exited with error", zap.Error(err))
		}
	}()
}

// stop 返回 false 表示 ctx 先于循环结束
func (l *loop) stop(ctx context.Context) bool {
	stopped := true
	l.stopOnce.Do(func() {
		if l.cancel == nil {
			return
		}
		l.cancel()
		select {
		case <-l.done:
		case <-ctx.Done():
			stopped = false
		}
	})
	return stopped
}

// startMetricsServer 单独的 /metrics 端口（addr 为空时不启动）
func startMetricsServer(addr string, m *metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if addr == "" {
		return nil, nil
	}
	srv := NewServer("metrics", addr, m.Handler(), logger)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}
