package models

import (
	"sort"
	"time"
)

// SnapshotEntry 供消费者使用的视图：状态 + 新鲜度
type SnapshotEntry struct {
	ClassifiedState
	IsFresh bool `json:"is_fresh"`
}

// Snapshot 一个轮询周期内所有已知传感器的视图；没有写入过的传感器不出现
type Snapshot map[int]SnapshotEntry

// NewSnapshotEntry 根据观测时间计算新鲜度
func NewSnapshotEntry(state ClassifiedState, now time.Time, window time.Duration) SnapshotEntry {
	return SnapshotEntry{
		ClassifiedState: state,
		IsFresh:         now.Sub(state.ObservedAt) < window,
	}
}

// SensorIDs 按升序返回快照中的传感器 ID
func (s Snapshot) SensorIDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AnyFalling 聚合跌倒信号；freshOnly 为 true 时过期条目不参与
func (s Snapshot) AnyFalling(freshOnly bool) bool {
	for _, entry := range s {
		if !entry.IsFalling {
			continue
		}
		if freshOnly && !entry.IsFresh {
			continue
		}
		return true
	}
	return false
}
