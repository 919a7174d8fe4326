package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 按级别和格式创建进程日志，stdout 输出，zap 自身错误写 stderr
// level: debug/info/warn/error，无法识别时为 info
// format: "console" 为人读格式，其余一律 JSON
// serviceName: 非空时作为 service_name 字段，如 "fall-receiver"
func NewLogger(level string, format string, serviceName string) (*zap.Logger, error) {
	core := newCore(zapcore.Lock(os.Stdout), parseLevel(level), format)

	fields := make([]zap.Field, 0, 2)
	if serviceName != "" {
		fields = append(fields, zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		fields = append(fields, zap.String("hostname", hostname))
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(fields...),
	), nil
}

// newCore 组装 encoder + 输出 + 级别
func newCore(out zapcore.WriteSyncer, level zapcore.Level, format string) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if strings.EqualFold(format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(level))
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil || l > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return l
}
