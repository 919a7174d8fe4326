package models

import (
	"math"
	"time"
)

// Vector3 三轴向量（陀螺仪角速度或加速度计线加速度）
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude 欧几里得范数 sqrt(x²+y²+z²)
func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// SensorReading 单个数据报解码后的读数
type SensorReading struct {
	SensorID      int     `json:"sensor_id"`
	SourceAddress string  `json:"source_address"` // 发送方 IP，仅供展示
	Gyro          Vector3 `json:"gyro"`
	Accel         Vector3 `json:"accel"`
}

// ClassifiedState 每个传感器最近一次分类结果（存储中整条覆盖，不保留历史）
type ClassifiedState struct {
	SensorID       int       `json:"sensor_id"`
	SourceAddress  string    `json:"ip"`
	Gyro           Vector3   `json:"gyro"`
	Accel          Vector3   `json:"accel"`
	GyroMagnitude  float64   `json:"fall_index"`
	AccelMagnitude float64   `json:"accel_index"`
	IsFalling      bool      `json:"fall"`
	ObservedAt     time.Time `json:"timestamp"`
}
