package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AlexeyKoz/fall-detection-system/common/database"
	mqttcommon "github.com/AlexeyKoz/fall-detection-system/common/mqtt"
	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/broadcast"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	httpapi "github.com/AlexeyKoz/fall-detection-system/internal/http"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/notifier"
	"github.com/AlexeyKoz/fall-detection-system/internal/reporter"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// connectSharedStore 多进程部署时各进程通过 Redis 共享传感器状态
func connectSharedStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.RedisStateStore, *redis.Client, error) {
	if cfg.Store.Backend != config.StoreBackendRedis {
		return nil, nil, fmt.Errorf("store backend %q is process-local, run fall-detector instead", cfg.Store.Backend)
	}
	client, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRedisStateStore(client, cfg.Store.KeyPrefix, cfg.Store.KnownSensorIDs, logger), client, nil
}

// openFallDB 启用数据库时连接 PostgreSQL，未启用返回 nil
func openFallDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sql.DB, *repository.FallEventsRepository, error) {
	if !cfg.Monitor.FallLogDBEnabled {
		return nil, nil, nil
	}
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, repository.NewFallEventsRepository(db, logger), nil
}

// fallSinks 每日文件必选，数据库可选
func fallSinks(cfg *config.Config, repo *repository.FallEventsRepository) []reporter.FallSink {
	sinks := []reporter.FallSink{reporter.NewDailyFileSink(cfg.Monitor.FallLogDir)}
	if repo != nil {
		sinks = append(sinks, reporter.NewPostgresFallSink(repo))
	}
	return sinks
}

// statusFanout 变化事件分发：显示端总是开启，MQTT/Stream/webhook 按配置开启
type statusFanout struct {
	wsHub      *broadcast.WebSocketHub
	hub        *broadcast.Hub
	mqttClient *mqttcommon.Client
}

// newStatusFanout redisClient 为 nil 时（内存后端）不能开启 stream
func newStatusFanout(cfg *config.Config, redisClient *redis.Client, m *metrics.Metrics, logger *zap.Logger) (*statusFanout, error) {
	f := &statusFanout{wsHub: broadcast.NewWebSocketHub(m, logger)}
	f.hub = broadcast.NewHub(m, logger, broadcast.NamedPublisher{Name: "websocket", Publisher: f.wsHub})

	if cfg.Status.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		f.mqttClient = mqttClient
		f.hub.Add("mqtt", broadcast.NewMQTTPublisher(mqttClient, cfg.Status.MQTTTopic, cfg.MQTT.QoS))
	}
	if cfg.Status.StreamEnabled {
		if redisClient == nil {
			f.close()
			return nil, fmt.Errorf("stream publishing requires the redis store backend")
		}
		f.hub.Add("stream", broadcast.NewStreamPublisher(redisClient, cfg.Status.StreamName, cfg.Status.StreamMaxLen))
	}
	if cfg.Status.WebhookURL != "" {
		f.hub.Add("webhook", broadcast.NewWebhookPublisher(cfg.Status.WebhookURL, cfg.Status.WebhookTimeout(), logger))
	}
	return f, nil
}

func (f *statusFanout) close() {
	f.wsHub.Close()
	if f.mqttClient != nil {
		f.mqttClient.Disconnect()
		f.mqttClient = nil
	}
}

// newStatusRouter 显示页、状态查询、跌倒历史、健康检查、/ws、/metrics
func newStatusRouter(
	n *notifier.Notifier,
	repo *repository.FallEventsRepository,
	redisClient *redis.Client,
	wsHub *broadcast.WebSocketHub,
	m *metrics.Metrics,
	logger *zap.Logger,
) *httpapi.Router {
	var history httpapi.FallHistory
	if repo != nil {
		history = repo
	}
	var health httpapi.HealthCheck
	if redisClient != nil {
		health = func(ctx context.Context) error {
			return rediscommon.Ping(ctx, redisClient)
		}
	}

	router := httpapi.NewRouter(logger)
	router.RegisterStatusRoutes(httpapi.NewStatusHandler(n, history, health, logger))
	router.HandleHandler("/ws", wsHub.Handler())
	router.HandleHandler("/metrics", m.Handler())
	return router
}
