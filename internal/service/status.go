package service

import (
	"context"
	"database/sql"

	"github.com/AlexeyKoz/fall-detection-system/common/database"
	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/notifier"
	"github.com/AlexeyKoz/fall-detection-system/internal/poller"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StatusService 实时状态服务：轮询 -> 变化通知 -> 显示端/MQTT/Stream/webhook
type StatusService struct {
	config   *config.Config
	logger   *zap.Logger
	redis    *redis.Client
	db       *sql.DB
	metrics  *metrics.Metrics
	poller   *poller.Poller
	notifier *notifier.Notifier
	fanout   *statusFanout
	server   *Server
	loop     loop
}

// NewStatusService 创建状态服务
func NewStatusService(cfg *config.Config, logger *zap.Logger) (*StatusService, error) {
	ctx := context.Background()
	s := &StatusService{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	// 1. 连接 Redis
	store, redisClient, err := connectSharedStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.redis = redisClient

	// 2. 分发
	s.fanout, err = newStatusFanout(cfg, redisClient, s.metrics, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	// 3. 跌倒历史查询（可选）
	db, fallRepo, err := openFallDB(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	s.db = db

	// 4. 轮询 + 通知
	s.poller = poller.New(store, cfg.Poller.PollInterval(), cfg.Poller.StalenessWindow(), nil, s.metrics, logger)
	s.notifier = notifier.New(s.fanout.hub, cfg.Poller.StaleClearsFall, s.metrics, logger)

	// 5. HTTP
	router := newStatusRouter(s.notifier, fallRepo, redisClient, s.fanout.wsHub, s.metrics, logger)
	s.server = NewServer("status", cfg.Status.HTTPAddr, router, logger)

	return s, nil
}

// Start 启动服务
func (s *StatusService) Start(ctx context.Context) error {
	s.logger.Info("Starting status service",
		zap.Strings("publishers", s.fanout.hub.Names()),
		zap.Bool("stale_clears_fall", s.config.Poller.StaleClearsFall),
	)

	if err := s.server.Start(); err != nil {
		return err
	}

	s.loop.start(ctx, func(ctx context.Context) error {
		return s.poller.Run(ctx, s.notifier)
	}, s.logger)
	return nil
}

// Addr HTTP 实际监听地址
func (s *StatusService) Addr() string {
	return s.server.Addr()
}

// Stop 停止服务
func (s *StatusService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status service")

	if !s.loop.stop(ctx) {
		s.logger.Warn("Poll loop did not finish before shutdown deadline")
	}

	s.fanout.wsHub.Close()
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	s.close()
	s.logger.Info("Status service stopped")
	return nil
}

func (s *StatusService) close() {
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
