package reporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"
)

// DailyFileSink 按天追加到 <dir>/falls_YYYY-MM-DD.txt，每条记录后 fsync
type DailyFileSink struct {
	dir string
	mu  sync.Mutex
}

// NewDailyFileSink 创建按天文件 sink（目录在首次写入时创建）
func NewDailyFileSink(dir string) *DailyFileSink {
	return &DailyFileSink{dir: dir}
}

// Name sink 名称
func (s *DailyFileSink) Name() string { return "file" }

// PathFor 记录对应的日志文件
func (s *DailyFileSink) PathFor(record models.FallRecord) string {
	day := record.LoggedAt.Local().Format("2006-01-02")
	return filepath.Join(s.dir, "falls_"+day+".txt")
}

// WriteFall 追加一条记录
func (s *DailyFileSink) WriteFall(ctx context.Context, record models.FallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log dir %s: %w", s.dir, err)
	}

	path := s.PathFor(record)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatFallRecord(record)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return nil
}

func formatFallRecord(r models.FallRecord) string {
	return fmt.Sprintf(
		"[%s] FALL detected!\n"+
			"    Sensor: %d (%s)\n"+
			"    Gyro:   x=%.3f, y=%.3f, z=%.3f\n"+
			"    Accel:  x=%.3f, y=%.3f, z=%.3f\n"+
			"    Index:  %.2f\n"+
			"    Observed: %s\n\n",
		r.LoggedAt.Local().Format(statusTimeLayout),
		r.SensorID, r.SourceAddress,
		r.Gyro.X, r.Gyro.Y, r.Gyro.Z,
		r.Accel.X, r.Accel.Y, r.Accel.Z,
		r.GyroMagnitude,
		r.ObservedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	)
}

// FallEventWriter fall_events 表的写入能力
type FallEventWriter interface {
	CreateFallEvent(ctx context.Context, record models.FallRecord) error
}

// PostgresFallSink 写入 PostgreSQL fall_events 表
type PostgresFallSink struct {
	repo FallEventWriter
}

// NewPostgresFallSink 创建数据库 sink
func NewPostgresFallSink(repo FallEventWriter) *PostgresFallSink {
	return &PostgresFallSink{repo: repo}
}

// Name sink 名称
func (s *PostgresFallSink) Name() string { return "postgres" }

// WriteFall 插入一条记录
func (s *PostgresFallSink) WriteFall(ctx context.Context, record models.FallRecord) error {
	return s.repo.CreateFallEvent(ctx, record)
}

var _ FallEventWriter = (*repository.FallEventsRepository)(nil)
