package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "github.com/AlexeyKoz/fall-detection-system/common/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/classifier"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 状态存储后端
const (
	StoreBackendRedis  = "redis"  // 多进程共享
	StoreBackendMemory = "memory" // 仅 fall-detector 单进程部署
)

// Config 跌倒检测系统配置（各进程共用）
// 优先级：默认值 < CONFIG_FILE (YAML) < 环境变量
type Config struct {
	Redis    commoncfg.RedisConfig    `yaml:"redis"`
	Database commoncfg.DatabaseConfig `yaml:"database"`
	MQTT     commoncfg.MQTTConfig     `yaml:"mqtt"`

	Receiver ReceiverConfig `yaml:"receiver"`
	Store    StoreConfig    `yaml:"store"`
	Poller   PollerConfig   `yaml:"poller"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Status   StatusConfig   `yaml:"status"`

	Simulator SimulatorConfig `yaml:"simulator"`

	Metrics struct {
		Addr string `yaml:"addr"` // 为空则不单独启动 /metrics（fall-status 挂在自身 HTTP 上）
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// ReceiverConfig UDP 接收服务配置
type ReceiverConfig struct {
	ListenAddress     string  `yaml:"listen_address"`
	ListenPort        int     `yaml:"listen_port"`
	MaxPacketSize     int     `yaml:"max_packet_size"`
	ReceiveTimeoutMs  int     `yaml:"receive_timeout_ms"`
	FallGyroThreshold float64 `yaml:"fall_gyro_threshold"`
}

// StoreConfig 传感器状态存储配置
type StoreConfig struct {
	Backend        string `yaml:"backend"`          // redis | memory
	KeyPrefix      string `yaml:"key_prefix"`       // 如 "sensor_"
	KnownSensorIDs []int  `yaml:"known_sensor_ids"` // 为空则通过 SCAN 发现
}

// PollerConfig 轮询配置
type PollerConfig struct {
	PollIntervalMs    int  `yaml:"poll_interval_ms"`
	StalenessWindowMs int  `yaml:"staleness_window_ms"`
	StaleClearsFall   bool `yaml:"stale_clears_fall"` // 过期的传感器不参与聚合跌倒信号
}

// MonitorConfig 控制台监控与跌倒日志配置
type MonitorConfig struct {
	PrintIntervalMs  int    `yaml:"print_interval_ms"`
	FallLogDir       string `yaml:"fall_log_dir"`
	FallLogDBEnabled bool   `yaml:"fall_log_db_enabled"`
}

// StatusConfig 实时状态分发配置
type StatusConfig struct {
	HTTPAddr         string `yaml:"http_addr"`
	MQTTEnabled      bool   `yaml:"mqtt_enabled"`
	MQTTTopic        string `yaml:"mqtt_topic"`
	StreamEnabled    bool   `yaml:"stream_enabled"`
	StreamName       string `yaml:"stream_name"`
	StreamMaxLen     int64  `yaml:"stream_max_len"`
	WebhookURL       string `yaml:"webhook_url"`
	WebhookTimeoutMs int    `yaml:"webhook_timeout_ms"`
}

// SimulatorConfig 合成数据发送工具配置
type SimulatorConfig struct {
	TargetAddr  string `yaml:"target_addr"`
	SensorCount int    `yaml:"sensor_count"`
	IntervalMs  int    `yaml:"interval_ms"`
	FallEvery   int    `yaml:"fall_every"` // 每个传感器每 N 轮发一次跌倒读数，0 不发
	Rounds      int    `yaml:"rounds"`     // 0 表示一直发送
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "falls"
	cfg.Database.SSLMode = "disable"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "fall-status"
	cfg.MQTT.QoS = 1

	cfg.Receiver.ListenAddress = "0.0.0.0"
	cfg.Receiver.ListenPort = 12345
	cfg.Receiver.MaxPacketSize = 2048
	cfg.Receiver.ReceiveTimeoutMs = 500
	cfg.Receiver.FallGyroThreshold = classifier.DefaultGyroThreshold

	cfg.Store.Backend = StoreBackendRedis
	cfg.Store.KeyPrefix = "sensor_"

	cfg.Poller.PollIntervalMs = 100
	cfg.Poller.StalenessWindowMs = 5000
	cfg.Poller.StaleClearsFall = true

	cfg.Monitor.PrintIntervalMs = 3000
	cfg.Monitor.FallLogDir = "./logs"

	cfg.Status.HTTPAddr = ":5000"
	cfg.Status.MQTTTopic = "fall/status"
	cfg.Status.StreamName = "fall:status:stream"
	cfg.Status.StreamMaxLen = 10000
	cfg.Status.WebhookTimeoutMs = 2000

	cfg.Simulator.TargetAddr = "127.0.0.1:12345"
	cfg.Simulator.SensorCount = 3
	cfg.Simulator.IntervalMs = 100
	cfg.Simulator.FallEvery = 50

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 可选，不覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Redis.LoadFromEnv("REDIS")
	c.Database.LoadFromEnv("DB")
	c.MQTT.LoadFromEnv("MQTT")

	c.Receiver.ListenAddress = getEnv("LISTEN_ADDRESS", c.Receiver.ListenAddress)
	c.Receiver.ListenPort = getEnvInt("LISTEN_PORT", c.Receiver.ListenPort)
	c.Receiver.MaxPacketSize = getEnvInt("MAX_PACKET_SIZE", c.Receiver.MaxPacketSize)
	c.Receiver.ReceiveTimeoutMs = getEnvInt("RECEIVE_TIMEOUT_MS", c.Receiver.ReceiveTimeoutMs)
	c.Receiver.FallGyroThreshold = getEnvFloat("FALL_GYRO_THRESHOLD", c.Receiver.FallGyroThreshold)

	c.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", c.Store.Backend))
	c.Store.KeyPrefix = getEnv("SENSOR_KEY_PREFIX", c.Store.KeyPrefix)
	if raw := os.Getenv("KNOWN_SENSOR_IDS"); raw != "" {
		ids, err := parseSensorIDs(raw)
		if err != nil {
			return fmt.Errorf("KNOWN_SENSOR_IDS: %w", err)
		}
		c.Store.KnownSensorIDs = ids
	}

	c.Poller.PollIntervalMs = getEnvInt("POLL_INTERVAL_MS", c.Poller.PollIntervalMs)
	c.Poller.StalenessWindowMs = getEnvInt("STALENESS_WINDOW_MS", c.Poller.StalenessWindowMs)
	c.Poller.StaleClearsFall = getEnvBool("STALE_CLEARS_FALL", c.Poller.StaleClearsFall)

	c.Monitor.PrintIntervalMs = getEnvInt("PRINT_INTERVAL_MS", c.Monitor.PrintIntervalMs)
	c.Monitor.FallLogDir = getEnv("FALL_LOG_DIR", c.Monitor.FallLogDir)
	c.Monitor.FallLogDBEnabled = getEnvBool("FALL_LOG_DB_ENABLED", c.Monitor.FallLogDBEnabled)

	c.Status.HTTPAddr = getEnv("HTTP_ADDR", c.Status.HTTPAddr)
	c.Status.MQTTEnabled = getEnvBool("MQTT_ENABLED", c.Status.MQTTEnabled)
	c.Status.MQTTTopic = getEnv("MQTT_TOPIC", c.Status.MQTTTopic)
	c.Status.StreamEnabled = getEnvBool("STREAM_ENABLED", c.Status.StreamEnabled)
	c.Status.StreamName = getEnv("STREAM_NAME", c.Status.StreamName)
	c.Status.WebhookURL = getEnv("WEBHOOK_URL", c.Status.WebhookURL)
	c.Status.WebhookTimeoutMs = getEnvInt("WEBHOOK_TIMEOUT_MS", c.Status.WebhookTimeoutMs)

	c.Simulator.TargetAddr = getEnv("SIM_TARGET_ADDR", c.Simulator.TargetAddr)
	c.Simulator.SensorCount = getEnvInt("SIM_SENSOR_COUNT", c.Simulator.SensorCount)
	c.Simulator.IntervalMs = getEnvInt("SIM_INTERVAL_MS", c.Simulator.IntervalMs)
	c.Simulator.FallEvery = getEnvInt("SIM_FALL_EVERY", c.Simulator.FallEvery)
	c.Simulator.Rounds = getEnvInt("SIM_ROUNDS", c.Simulator.Rounds)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Receiver.ListenPort <= 0 || c.Receiver.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Receiver.ListenPort)
	}
	if c.Receiver.MaxPacketSize <= 0 {
		return fmt.Errorf("max packet size must be positive")
	}
	if c.Receiver.ReceiveTimeoutMs <= 0 {
		return fmt.Errorf("receive timeout must be positive")
	}
	if c.Receiver.FallGyroThreshold < 0 {
		return fmt.Errorf("fall gyro threshold must not be negative")
	}
	switch c.Store.Backend {
	case StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.KeyPrefix == "" {
		return fmt.Errorf("sensor key prefix is required")
	}
	for _, id := range c.Store.KnownSensorIDs {
		if id <= 0 {
			return fmt.Errorf("sensor id %d is not positive", id)
		}
	}
	if c.Poller.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Poller.StalenessWindowMs <= 0 {
		return fmt.Errorf("staleness window must be positive")
	}
	if c.Simulator.SensorCount <= 0 {
		return fmt.Errorf("simulator sensor count must be positive")
	}
	if c.Simulator.IntervalMs <= 0 {
		return fmt.Errorf("simulator interval must be positive")
	}
	if c.Simulator.FallEvery < 0 || c.Simulator.Rounds < 0 {
		return fmt.Errorf("simulator fall_every and rounds must not be negative")
	}
	if c.Monitor.PrintIntervalMs <= 0 {
		return fmt.Errorf("print interval must be positive")
	}
	if c.Status.StreamEnabled && c.Status.StreamName == "" {
		return fmt.Errorf("stream name is required when stream is enabled")
	}
	if c.Status.StreamEnabled && c.Store.Backend != StoreBackendRedis {
		return fmt.Errorf("stream publishing requires the redis store backend")
	}
	if c.Status.MQTTEnabled && c.Status.MQTTTopic == "" {
		return fmt.Errorf("mqtt topic is required when mqtt is enabled")
	}
	return nil
}

// ListenAddr UDP 监听地址 host:port
func (c *ReceiverConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

// ReceiveTimeout 单次接收阻塞上限
func (c *ReceiverConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMs) * time.Millisecond
}

// PollInterval 轮询间隔
func (c *PollerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StalenessWindow 新鲜度窗口
func (c *PollerConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowMs) * time.Millisecond
}

// PrintInterval 控制台状态打印间隔
func (c *MonitorConfig) PrintInterval() time.Duration {
	return time.Duration(c.PrintIntervalMs) * time.Millisecond
}

// Interval 每轮发送间隔
func (c *SimulatorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// WebhookTimeout webhook 请求超时
func (c *StatusConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMs) * time.Millisecond
}

func parseSensorIDs(raw string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid sensor id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}
