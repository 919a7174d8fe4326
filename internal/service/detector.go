package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/AlexeyKoz/fall-detection-system/common/database"
	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/consumer"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/notifier"
	"github.com/AlexeyKoz/fall-detection-system/internal/poller"
	"github.com/AlexeyKoz/fall-detection-system/internal/reporter"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DetectorService 单进程部署：接收、控制台监控、实时状态共用一个状态存储
// memory 后端时不依赖 Redis；redis 后端时状态仍对外部进程可见
type DetectorService struct {
	config     *config.Config
	logger     *zap.Logger
	redis      *redis.Client
	db         *sql.DB
	metrics    *metrics.Metrics
	consumer   *consumer.UDPConsumer
	poller     *poller.Poller
	notifier   *notifier.Notifier
	reporter   *reporter.ConsoleReporter
	fallLogger *reporter.FallEventLogger
	fanout     *statusFanout
	server     *Server

	receiveLoop loop
	pollLoop    loop
}

// NewDetectorService 创建单进程服务，状态块输出到 stdout
func NewDetectorService(cfg *config.Config, logger *zap.Logger) (*DetectorService, error) {
	return newDetectorService(cfg, os.Stdout, logger)
}

func newDetectorService(cfg *config.Config, out io.Writer, logger *zap.Logger) (*DetectorService, error) {
	ctx := context.Background()
	s := &DetectorService{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	// 1. 状态存储
	var store repository.SensorStateStore
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		store = repository.NewMemoryStateStore()
	default:
		redisStore, redisClient, err := connectSharedStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
		s.redis = redisClient
	}

	// 2. 跌倒日志与历史查询（数据库可选）
	db, fallRepo, err := openFallDB(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.db = db
	if fallRepo != nil {
		if err := fallRepo.EnsureSchema(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	// 3. 分发
	s.fanout, err = newStatusFanout(cfg, s.redis, s.metrics, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	// 4. UDP 接收（绑定失败即返回）
	s.consumer, err = consumer.NewUDPConsumer(cfg, store, s.metrics, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	// 5. 轮询：变化通知 + 控制台 + 跌倒日志
	s.poller = poller.New(store, cfg.Poller.PollInterval(), cfg.Poller.StalenessWindow(), nil, s.metrics, logger)
	s.notifier = notifier.New(s.fanout.hub, cfg.Poller.StaleClearsFall, s.metrics, logger)
	s.reporter = reporter.NewConsoleReporter(out, cfg.Monitor.PrintInterval(), cfg.Store.KnownSensorIDs, logger)
	s.fallLogger = reporter.NewFallEventLogger(s.metrics, logger, fallSinks(cfg, fallRepo)...)

	// 6. HTTP
	router := newStatusRouter(s.notifier, fallRepo, s.redis, s.fanout.wsHub, s.metrics, logger)
	s.server = NewServer("detector", cfg.Status.HTTPAddr, router, logger)

	return s, nil
}

// Start 启动服务
func (s *DetectorService) Start(ctx context.Context) error {
	s.logger.Info("Starting detector service",
		zap.String("store_backend", s.config.Store.Backend),
		zap.Strings("publishers", s.fanout.hub.Names()),
		zap.String("fall_log_dir", s.config.Monitor.FallLogDir),
	)

	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.receiveLoop.start(ctx, s.consumer.Run, s.logger)
	s.pollLoop.start(ctx, func(ctx context.Context) error {
		return s.poller.Run(ctx, s.notifier, s.reporter, s.fallLogger)
	}, s.logger)
	return nil
}

// LocalAddr UDP 实际监听地址
func (s *DetectorService) LocalAddr() net.Addr {
	return s.consumer.LocalAddr()
}

// Addr HTTP 实际监听地址
func (s *DetectorService) Addr() string {
	return s.server.Addr()
}

// Stop 先停接收再停轮询，最后关闭显示端、HTTP 与外部连接；可重复调用
func (s *DetectorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping detector service")

	if !s.receiveLoop.stop(ctx) {
		s.logger.Warn("Receive loop did not finish before shutdown deadline")
	}
	if !s.pollLoop.stop(ctx) {
		s.logger.Warn("Poll loop did not finish before shutdown deadline")
	}

	if s.fanout != nil {
		s.fanout.wsHub.Close()
	}
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	s.close()
	s.logger.Info("Detector service stopped")
	return nil
}

func (s *DetectorService) close() {
	if s.consumer != nil {
		_ = s.consumer.Close()
		s.consumer = nil
	}
	if s.fanout != nil {
		s.fanout.close()
	}
	if s.redis != nil {
		_ = rediscommon.Close(s.redis)
		s.redis = nil
	}
	if s.db != nil {
		_ = database.Close(s.db)
		s.db = nil
	}
}
