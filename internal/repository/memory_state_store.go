package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"
)

// MemoryStateStore 进程内状态存储（单进程部署或测试使用）
// 与 Redis 实现保持相同的编码，读回的数值同样保留 3 位小数
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[int]map[string]string
}

// NewMemoryStateStore 创建内存状态存储
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[int]map[string]string)}
}

// WriteState 整条覆盖写入
func (s *MemoryStateStore) WriteState(ctx context.Context, state models.ClassifiedState) error {
	encoded := EncodeState(state)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[state.SensorID] = encoded
	return nil
}

// ReadState 读取状态
func (s *MemoryStateStore) ReadState(ctx context.Context, sensorID int) (*models.ClassifiedState, error) {
	s.mu.RLock()
	fields, ok := s.records[sensorID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return DecodeState(sensorID, fields)
}

// KnownSensorIDs 已写入过的传感器 ID（升序）
func (s *MemoryStateStore) KnownSensorIDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

var _ SensorStateStore = (*MemoryStateStore)(nil)
