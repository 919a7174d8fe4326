package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"
)

var (
	// ErrStateNotFound 该传感器从未写入过状态
	ErrStateNotFound = errors.New("sensor state not found")
	// ErrCorruptRecord 存储中的记录无法解码
	ErrCorruptRecord = errors.New("corrupt sensor state record")
)

// SensorStateStore 每个传感器最近一次状态的共享存储
// 写入为整条覆盖（last-write-wins），读写对单个传感器原子
type SensorStateStore interface {
	WriteState(ctx context.Context, state models.ClassifiedState) error
	ReadState(ctx context.Context, sensorID int) (*models.ClassifiedState, error)
	KnownSensorIDs(ctx context.Context) ([]int, error)
}

// 存储字段名（与显示端约定，不可随意修改）
const (
	fieldIP         = "ip"
	fieldGX         = "gx"
	fieldGY         = "gy"
	fieldGZ         = "gz"
	fieldAX         = "ax"
	fieldAY         = "ay"
	fieldAZ         = "az"
	fieldFallIndex  = "fall_index"
	fieldAccelIndex = "accel_index"
	fieldFall       = "fall"
	fieldTimestamp  = "timestamp"
)

// SensorKey 构建传感器键，如 sensor_3
func SensorKey(prefix string, sensorID int) string {
	return prefix + strconv.Itoa(sensorID)
}

// ParseSensorKey 从键中解析传感器 ID；不符合 <prefix><正整数> 的键返回 false
func ParseSensorKey(prefix, key string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	rest := key[len(prefix):]
	if rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// round3 数值保留 3 位小数存储
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(round3(v), 'f', -1, 64)
}

// EncodeState 将状态编码为 hash 字段
func EncodeState(state models.ClassifiedState) map[string]string {
	fall := "false"
	if state.IsFalling {
		fall = "true"
	}
	return map[string]string{
		fieldIP:         state.SourceAddress,
		fieldGX:         formatNumber(state.Gyro.X),
		fieldGY:         formatNumber(state.Gyro.Y),
		fieldGZ:         formatNumber(state.Gyro.Z),
		fieldAX:         formatNumber(state.Accel.X),
		fieldAY:         formatNumber(state.Accel.Y),
		fieldAZ:         formatNumber(state.Accel.Z),
		fieldFallIndex:  formatNumber(state.GyroMagnitude),
		fieldAccelIndex: formatNumber(state.AccelMagnitude),
		fieldFall:       fall,
		fieldTimestamp:  state.ObservedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeState 从 hash 字段解码状态；缺失或格式错误返回 ErrCorruptRecord
func DecodeState(sensorID int, fields map[string]string) (*models.ClassifiedState, error) {
	if len(fields) == 0 {
		return nil, ErrStateNotFound
	}

	var decodeErr error
	num := func(name string) float64 {
		if decodeErr != nil {
			return 0
		}
		raw, ok := fields[name]
		if !ok {
			decodeErr = fmt.Errorf("%w: sensor %d missing field %s", ErrCorruptRecord, sensorID, name)
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			decodeErr = fmt.Errorf("%w: sensor %d field %s=%q", ErrCorruptRecord, sensorID, name, raw)
			return 0
		}
		return v
	}

	state := &models.ClassifiedState{
		SensorID:       sensorID,
		SourceAddress:  fields[fieldIP],
		Gyro:           models.Vector3{X: num(fieldGX), Y: num(fieldGY), Z: num(fieldGZ)},
		Accel:          models.Vector3{X: num(fieldAX), Y: num(fieldAY), Z: num(fieldAZ)},
		GyroMagnitude:  num(fieldFallIndex),
		AccelMagnitude: num(fieldAccelIndex),
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	switch fields[fieldFall] {
	case "true":
		state.IsFalling = true
	case "false":
		state.IsFalling = false
	default:
		return nil, fmt.Errorf("%w: sensor %d field fall=%q", ErrCorruptRecord, sensorID, fields[fieldFall])
	}

	observedAt, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp])
	if err != nil {
		return nil, fmt.Errorf("%w: sensor %d field timestamp=%q", ErrCorruptRecord, sensorID, fields[fieldTimestamp])
	}
	state.ObservedAt = observedAt

	return state, nil
}
