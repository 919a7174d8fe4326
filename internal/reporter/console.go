package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

const statusTimeLayout = "2006-01-02 15:04:05"

// ConsoleReporter 定期打印各传感器状态块
type ConsoleReporter struct {
	out      io.Writer
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	sensorIDs []int
	seen      map[int]struct{}
	lastPrint time.Time
}

// NewConsoleReporter 创建控制台报告器
// sensorIDs 为空时，显示所有出现过的传感器（消失的显示 No data）
func NewConsoleReporter(out io.Writer, interval time.Duration, sensorIDs []int, logger *zap.Logger) *ConsoleReporter {
	return &ConsoleReporter{
		out:       out,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
		sensorIDs: append([]int(nil), sensorIDs...),
		seen:      make(map[int]struct{}),
	}
}

// HandleSnapshot 每个周期调用；距上次打印超过 interval 才输出
func (r *ConsoleReporter) HandleSnapshot(ctx context.Context, snapshot models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range snapshot {
		r.seen[id] = struct{}{}
	}

	now := r.now()
	if !r.lastPrint.IsZero() && now.Sub(r.lastPrint) < r.interval {
		return
	}
	r.lastPrint = now

	if _, err := r.out.Write(r.render(snapshot, now)); err != nil {
		r.logger.Warn("Failed to write status report", zap.Error(err))
	}
}

func (r *ConsoleReporter) ids() []int {
	if len(r.sensorIDs) > 0 {
		return r.sensorIDs
	}
	ids := make([]int, 0, len(r.seen))
	for id := range r.seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// render 生成状态块
func (r *ConsoleReporter) render(snapshot models.Snapshot, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "\n========== STATUS @ %s ==========\n", now.Format(statusTimeLayout))

	ids := r.ids()
	if len(ids) == 0 {
		b.WriteString("No sensors reporting\n")
	}
	for _, id := range ids {
		entry, ok := snapshot[id]
		if !ok || !entry.IsFresh {
			fmt.Fprintf(&b, "Sensor %d: No data\n", id)
			continue
		}

		fmt.Fprintf(&b, "Sensor %d [%s]: OK\n", id, entry.SourceAddress)
		fmt.Fprintf(&b, "  Gyro: %s  Accel: %s\n", formatVector(entry.Gyro), formatVector(entry.Accel))
		marker := ""
		if entry.IsFalling {
			marker = "  FALL"
		}
		fmt.Fprintf(&b, "  Fall Index: %.2f%s\n", entry.GyroMagnitude, marker)
	}
	b.WriteString("============================\n")
	return b.Bytes()
}

func formatVector(v models.Vector3) string {
	return fmt.Sprintf("[%.3f %.3f %.3f]", v.X, v.Y, v.Z)
}
