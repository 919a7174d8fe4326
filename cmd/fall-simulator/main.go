// fall-simulator 向接收端发送合成传感器数据（联调、部署自检）
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/AlexeyKoz/fall-detection-system/common/logger"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/simulator"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fall-simulator")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	sim, err := simulator.New(&cfg.Simulator, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create simulator", zap.Error(err))
	}
	defer sim.Close()

	// SIGINT/SIGTERM 结束发送
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sim.Run(ctx); err != nil {
		zapLogger.Error("Simulator stopped with error", zap.Error(err))
	}
}
