// fall-detector 单进程部署：接收 + 控制台监控 + 实时状态
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
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fall-detector")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting fall-detector",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("listen_addr", cfg.Receiver.ListenAddr()),
		zap.String("http_addr", cfg.Status.HTTPAddr),
	)

	// 创建服务
	svc, err := service.NewDetectorService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create detector service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start detector service", zap.Error(err))
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
