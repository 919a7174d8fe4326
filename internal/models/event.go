package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent 下发给实时显示等订阅方的分发事件（只在聚合值变化时产生）
type StatusEvent struct {
	EventID   string    `json:"event_id"`
	Falling   bool      `json:"falling"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusEvent 创建分发事件
func NewStatusEvent(falling bool, at time.Time) StatusEvent {
	return StatusEvent{
		EventID:   uuid.NewString(),
		Falling:   falling,
		Timestamp: at.UTC(),
	}
}

// FallRecord 一次被记录的跌倒（每个传感器每个观测时间只记录一次）
type FallRecord struct {
	EventID       string    `json:"event_id"`
	SensorID      int       `json:"sensor_id"`
	SourceAddress string    `json:"ip"`
	Gyro          Vector3   `json:"gyro"`
	Accel         Vector3   `json:"accel"`
	GyroMagnitude float64   `json:"fall_index"`
	ObservedAt    time.Time `json:"observed_at"`
	LoggedAt      time.Time `json:"logged_at"`
}

// NewFallRecord 根据状态创建跌倒记录
func NewFallRecord(state ClassifiedState, loggedAt time.Time) FallRecord {
	return FallRecord{
		EventID:       uuid.NewString(),
		SensorID:      state.SensorID,
		SourceAddress: state.SourceAddress,
		Gyro:          state.Gyro,
		Accel:         state.Accel,
		GyroMagnitude: state.GyroMagnitude,
		ObservedAt:    state.ObservedAt,
		LoggedAt:      loggedAt,
	}
}
