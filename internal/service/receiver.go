package service

import (
	"context"
	"fmt"
	"net"

	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/consumer"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReceiverService UDP 接收服务：数据报 -> 分类 -> Redis
type ReceiverService struct {
	config        *config.Config
	logger        *zap.Logger
	redis         *redis.Client
	metrics       *metrics.Metrics
	consumer      *consumer.UDPConsumer
	metricsServer *Server
	loop          loop
}

// NewReceiverService 创建接收服务（连接 Redis 并绑定 UDP 端口，任一失败即返回错误）
func NewReceiverService(cfg *config.Config, logger *zap.Logger) (*ReceiverService, error) {
	store, redisClient, err := connectSharedStore(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	udpConsumer, err := consumer.NewUDPConsumer(cfg, store, m, logger)
	if err != nil {
		_ = rediscommon.Close(redisClient)
		return nil, err
	}

	return &ReceiverService{
		config:   cfg,
		logger:   logger,
		redis:    redisClient,
		metrics:  m,
		consumer: udpConsumer,
	}, nil
}

// Start 启动服务
func (s *ReceiverService) Start(ctx context.Context) error {
	s.logger.Info("Starting receiver service components")

	metricsServer, err := startMetricsServer(s.config.Metrics.Addr, s.metrics, s.logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.metricsServer = metricsServer

	s.loop.start(ctx, s.consumer.Run, s.logger)

	s.logger.Info("Receiver service started successfully")
	return nil
}

// LocalAddr UDP 实际监听地址
func (s *ReceiverService) LocalAddr() net.Addr {
	return s.consumer.LocalAddr()
}

// Stop 停止服务：先等在途数据报处理完，再关闭 socket 和 Redis
func (s *ReceiverService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping receiver service")

	if !s.loop.stop(ctx) {
		s.logger.Warn("Receive loop did not finish before shutdown deadline")
	}

	if s.consumer != nil {
		_ = s.consumer.Close()
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	if s.redis != nil {
		_ = rediscommon.Close(s.redis)
	}

	s.logger.Info("Receiver service stopped")
	return nil
}
