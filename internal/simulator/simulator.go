package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/codec"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

const (
	// 静止时陀螺仪噪声幅度，远低于跌倒阈值
	restingGyroNoise = 20.0
	// 跌倒读数的陀螺仪分量范围
	fallGyroMin = 1500.0
	fallGyroMax = 2500.0
	gravity     = 9.81
)

// Simulator 按固定节奏向接收端发送合成传感器数据报，用于联调和部署自检
type Simulator struct {
	conn      net.Conn
	sensorIDs []int
	interval  time.Duration
	fallEvery int
	rounds    int
	rand      *rand.Rand
	logger    *zap.Logger
}

// New 连接目标地址（UDP 无握手，只校验地址）
func New(cfg *config.SimulatorConfig, logger *zap.Logger) (*Simulator, error) {
	conn, err := net.Dial("udp", cfg.TargetAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.TargetAddr, err)
	}

	ids := make([]int, cfg.SensorCount)
	for i := range ids {
		ids[i] = i + 1
	}

	return &Simulator{
		conn:      conn,
		sensorIDs: ids,
		interval:  cfg.Interval(),
		fallEvery: cfg.FallEvery,
		rounds:    cfg.Rounds,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
	}, nil
}

// Reading 第 round 轮（从 0 开始）传感器 id 的读数
// 跌倒轮按传感器错开，避免所有传感器同时跌倒
func (s *Simulator) Reading(round, id int) *models.SensorReading {
	r := &models.SensorReading{
		SensorID:      id,
		SourceAddress: fmt.Sprintf("192.168.1.%d", 100+id),
		Gyro: models.Vector3{
			X: s.noise(restingGyroNoise),
			Y: s.noise(restingGyroNoise),
			Z: s.noise(restingGyroNoise),
		},
		Accel: models.Vector3{
			X: s.noise(0.2),
			Y: s.noise(0.2),
			Z: gravity + s.noise(0.2),
		},
	}
	if s.fallEvery > 0 && (round+id)%s.fallEvery == 0 {
		r.Gyro.X = fallGyroMin + s.rand.Float64()*(fallGyroMax-fallGyroMin)
		r.Accel.Z = s.noise(3)
	}
	return r
}

// Run 每个 interval 为每个传感器发一个包，直到 ctx 取消或发满 rounds 轮
// 接收端暂时不可达只记录日志，不中断发送
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("Sending synthetic sensor data",
		zap.String("target", s.conn.RemoteAddr().String()),
		zap.Ints("sensor_ids", s.sensorIDs),
		zap.Duration("interval", s.interval),
		zap.Int("fall_every", s.fallEvery),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for round := 0; ; round++ {
		s.sendRound(round)
		if s.rounds > 0 && round+1 >= s.rounds {
			s.logger.Info("Synthetic data finished", zap.Int("rounds", s.rounds))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// sendRound 返回成功发送的包数
func (s *Simulator) sendRound(round int) int {
	sent := 0
	for _, id := range s.sensorIDs {
		reading := s.Reading(round, id)
		if _, err := s.conn.Write(codec.Encode(reading)); err != nil {
			s.logger.Warn("Failed to send reading", zap.Int("sensor_id", id), zap.Error(err))
			continue
		}
		sent++
		if reading.Gyro.Magnitude() >= fallGyroMin {
			s.logger.Debug("Sent fall reading", zap.Int("sensor_id", id), zap.Int("round", round))
		}
	}
	return sent
}

// Close 关闭 socket
func (s *Simulator) Close() error {
	return s.conn.Close()
}

func (s *Simulator) noise(amplitude float64) float64 {
	return (s.rand.Float64()*2 - 1) * amplitude
}
