package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/AlexeyKoz/fall-detection-system/common/database"
	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/poller"
	"github.com/AlexeyKoz/fall-detection-system/internal/reporter"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MonitorService 控制台监控：轮询 -> 状态打印 + 跌倒日志
type MonitorService struct {
	config        *config.Config
	logger        *zap.Logger
	redis         *redis.Client
	db            *sql.DB
	metrics       *metrics.Metrics
	poller        *poller.Poller
	reporter      *reporter.ConsoleReporter
	fallLogger    *reporter.FallEventLogger
	metricsServer *Server
	loop          loop
}

// NewMonitorService 创建监控服务，状态块输出到 stdout
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	return newMonitorService(cfg, os.Stdout, logger)
}

func newMonitorService(cfg *config.Config, out io.Writer, logger *zap.Logger) (*MonitorService, error) {
	ctx := context.Background()

	// 1. 连接 Redis
	store, redisClient, err := connectSharedStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// 2. 跌倒日志 sink（文件必选，数据库可选）
	db, fallRepo, err := openFallDB(ctx, cfg, logger)
	if err != nil {
		_ = rediscommon.Close(redisClient)
		return nil, err
	}
	if fallRepo != nil {
		if err := fallRepo.EnsureSchema(ctx); err != nil {
			_ = database.Close(db)
			_ = rediscommon.Close(redisClient)
			return nil, err
		}
	}

	// 3. 轮询与处理器
	m := metrics.New()
	p := poller.New(store, cfg.Poller.PollInterval(), cfg.Poller.StalenessWindow(), nil, m, logger)

	return &MonitorService{
		config:     cfg,
		logger:     logger,
		redis:      redisClient,
		db:         db,
		metrics:    m,
		poller:     p,
		reporter:   reporter.NewConsoleReporter(out, cfg.Monitor.PrintInterval(), cfg.Store.KnownSensorIDs, logger),
		fallLogger: reporter.NewFallEventLogger(m, logger, fallSinks(cfg, fallRepo)...),
	}, nil
}

// Start 启动服务
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.String("fall_log_dir", s.config.Monitor.FallLogDir),
		zap.Bool("fall_log_db", s.db != nil),
	)

	metricsServer, err := startMetricsServer(s.config.Metrics.Addr, s.metrics, s.logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.metricsServer = metricsServer

	s.loop.start(ctx, func(ctx context.Context) error {
		return s.poller.Run(ctx, s.reporter, s.fallLogger)
	}, s.logger)
	return nil
}

// Stop 停止服务
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitor service")

	if !s.loop.stop(ctx) {
		s.logger.Warn("Poll loop did not finish before shutdown deadline")
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	if s.redis != nil {
		_ = rediscommon.Close(s.redis)
	}

	if s.db != nil {
		_ = database.Close(s.db)
	}

	s.logger.Info("Monitor service stopped")
	return nil
}
