package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"
)

// 线上格式: sensorId,sourceAddress,gx,gy,gz,ax,ay,az
const fieldCount = 8

var (
	// ErrMalformed 数据报无法解析（缺字段、非数字、编码错误、超长）
	ErrMalformed = errors.New("malformed packet")
	// ErrNonFinite 数值字段为 NaN 或无穷大
	ErrNonFinite = errors.New("non-finite motion value")
)

var fieldNames = [fieldCount]string{"sensor_id", "source_address", "gx", "gy", "gz", "ax", "ay", "az"}

// ParseError 解码失败的原因（用于诊断日志）
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: field %s: %s", e.Err, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func malformed(field, reason string) error {
	return &ParseError{Field: field, Reason: reason, Err: ErrMalformed}
}

// Decode 将原始数据报解码为读数；maxSize <= 0 表示不限制长度
func Decode(raw []byte, maxSize int) (*models.SensorReading, error) {
	if maxSize > 0 && len(raw) > maxSize {
		return nil, malformed("", fmt.Sprintf("payload of %d bytes exceeds limit %d", len(raw), maxSize))
	}
	if !utf8.Valid(raw) {
		return nil, malformed("", "invalid UTF-8 encoding")
	}

	line := strings.TrimSpace(string(raw))
	if line == "" {
		return nil, malformed("", "empty payload")
	}

	parts := strings.Split(line, ",")
	if len(parts) != fieldCount {
		return nil, malformed("", fmt.Sprintf("expected %d fields, got %d", fieldCount, len(parts)))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	sensorID, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, malformed(fieldNames[0], fmt.Sprintf("%q is not an integer", parts[0]))
	}
	if sensorID <= 0 {
		return nil, malformed(fieldNames[0], fmt.Sprintf("%d is not a positive id", sensorID))
	}

	var values [6]float64
	for i := range values {
		idx := i + 2
		v, err := parseMotion(fieldNames[idx], parts[idx])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	return &models.SensorReading{
		SensorID:      sensorID,
		SourceAddress: parts[1],
		Gyro:          models.Vector3{X: values[0], Y: values[1], Z: values[2]},
		Accel:         models.Vector3{X: values[3], Y: values[4], Z: values[5]},
	}, nil
}

func parseMotion(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		// 溢出时 ParseFloat 返回 ±Inf + ErrRange，按非有限值处理
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) && math.IsInf(v, 0) {
			return 0, &ParseError{Field: field, Reason: fmt.Sprintf("%q overflows float64", s), Err: ErrNonFinite}
		}
		return 0, malformed(field, fmt.Sprintf("%q is not a number", s))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Field: field, Reason: fmt.Sprintf("%q is not finite", s), Err: ErrNonFinite}
	}
	return v, nil
}

// Encode 生成与 Decode 对应的线上格式
func Encode(r *models.SensorReading) []byte {
	fields := []string{
		strconv.Itoa(r.SensorID),
		r.SourceAddress,
		formatFloat(r.Gyro.X), formatFloat(r.Gyro.Y), formatFloat(r.Gyro.Z),
		formatFloat(r.Accel.X), formatFloat(r.Accel.Y), formatFloat(r.Accel.Z),
	}
	return []byte(strings.Join(fields, ","))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
