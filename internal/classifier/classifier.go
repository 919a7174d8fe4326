// Package classifier 根据运动幅值判断是否发生跌倒。
//
// 目前只使用陀螺仪幅值与阈值比较，这是占位算法而非临床判定；
// 加速度幅值会计算并存储，但不参与判断。
package classifier

import (
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"
)

// DefaultGyroThreshold 原始量程下的默认陀螺仪阈值（待调优）
const DefaultGyroThreshold = 1000.0

// Classify 计算幅值并判定跌倒（严格大于阈值才算跌倒）
func Classify(reading *models.SensorReading, thresholdGyro float64, now time.Time) models.ClassifiedState {
	gyroMagnitude := reading.Gyro.Magnitude()

	return models.ClassifiedState{
		SensorID:       reading.SensorID,
		SourceAddress:  reading.SourceAddress,
		Gyro:           reading.Gyro,
		Accel:          reading.Accel,
		GyroMagnitude:  gyroMagnitude,
		AccelMagnitude: reading.Accel.Magnitude(),
		IsFalling:      gyroMagnitude > thresholdGyro,
		ObservedAt:     now,
	}
}

// Classifier 绑定阈值和时钟的分类器
type Classifier struct {
	threshold float64
	now       func() time.Time
}

// New 创建分类器；now 为 nil 时使用 time.Now
func New(threshold float64, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{threshold: threshold, now: now}
}

// Classify 使用当前时间分类
func (c *Classifier) Classify(reading *models.SensorReading) models.ClassifiedState {
	return Classify(reading, c.threshold, c.now())
}

// Threshold 当前阈值
func (c *Classifier) Threshold() float64 {
	return c.threshold
}
