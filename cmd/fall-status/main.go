// fall-status 实时跌倒状态显示与分发
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/common/logger"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/service"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fall-status")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting fall-status service",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("http_addr", cfg.Status.HTTPAddr),
		zap.Bool("stale_clears_fall", cfg.Poller.StaleClearsFall),
	)

	// 创建服务
	svc, err := service.NewStatusService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create status service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start status service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
