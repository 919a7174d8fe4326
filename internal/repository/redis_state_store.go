package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStateStore 基于 Redis hash 的传感器状态存储（每个传感器一个 key）
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
	knownIDs  []int // 配置了固定 ID 时不再扫描
	logger    *zap.Logger
}

// NewRedisStateStore 创建 Redis 状态存储
func NewRedisStateStore(client *redis.Client, keyPrefix string, knownIDs []int, logger *zap.Logger) *RedisStateStore {
	ids := append([]int(nil), knownIDs...)
	sort.Ints(ids)
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
		knownIDs:  ids,
		logger:    logger,
	}
}

// WriteState 整条覆盖写入传感器状态
func (s *RedisStateStore) WriteState(ctx context.Context, state models.ClassifiedState) error {
	key := SensorKey(s.keyPrefix, state.SensorID)

	fields := EncodeState(state)
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	if err := s.client.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// ReadState 读取传感器状态
func (s *RedisStateStore) ReadState(ctx context.Context, sensorID int) (*models.ClassifiedState, error) {
	key := SensorKey(s.keyPrefix, sensorID)

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return DecodeState(sensorID, fields)
}

// KnownSensorIDs 返回已知传感器 ID（配置优先，否则 SCAN 发现）
func (s *RedisStateStore) KnownSensorIDs(ctx context.Context) ([]int, error) {
	if len(s.knownIDs) > 0 {
		return append([]int(nil), s.knownIDs...), nil
	}

	var ids []int
	var cursor uint64
	pattern := s.keyPrefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor keys: %w", err)
		}
		for _, key := range keys {
			id, ok := ParseSensorKey(s.keyPrefix, key)
			if !ok {
				s.logger.Warn("Ignoring unexpected key under sensor prefix", zap.String("key", key))
				continue
			}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Ints(ids)
	return dedupe(ids), nil
}

func dedupe(sorted []int) []int {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

var _ SensorStateStore = (*RedisStateStore)(nil)
