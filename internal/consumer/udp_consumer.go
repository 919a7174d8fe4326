package consumer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/classifier"
	"github.com/AlexeyKoz/fall-detection-system/internal/codec"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"go.uber.org/zap"
)

// storeWriteTimeout 单个数据包写存储的上限（不受停止信号影响，保证在途包写完）
const storeWriteTimeout = time.Second

var (
	// ErrStoreWrite 状态写入存储失败（瞬时错误，下一个包自然重试）
	ErrStoreWrite = errors.New("state store write failed")
	// ErrUnexpected 不在预期分类内的失败（含 panic）
	ErrUnexpected = errors.New("unexpected packet pipeline failure")
)

// UDPConsumer UDP 数据报消费者：解码 -> 分类 -> 写入状态存储
type UDPConsumer struct {
	conn           net.PacketConn
	store          repository.SensorStateStore
	classifier     *classifier.Classifier
	metrics        *metrics.Metrics
	logger         *zap.Logger
	maxPacketSize  int
	receiveTimeout time.Duration
}

// NewUDPConsumer 绑定 UDP 端口并创建消费者；绑定失败直接返回错误（启动即失败）
// m 为 nil 时使用不对外暴露的独立指标
func NewUDPConsumer(
	cfg *config.Config,
	store repository.SensorStateStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*UDPConsumer, error) {
	conn, err := net.ListenPacket("udp", cfg.Receiver.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP %s: %w", cfg.Receiver.ListenAddr(), err)
	}
	if m == nil {
		m = metrics.New()
	}

	return &UDPConsumer{
		conn:           conn,
		store:          store,
		classifier:     classifier.New(cfg.Receiver.FallGyroThreshold, nil),
		metrics:        m,
		logger:         logger,
		maxPacketSize:  cfg.Receiver.MaxPacketSize,
		receiveTimeout: cfg.Receiver.ReceiveTimeout(),
	}, nil
}

// LocalAddr 实际绑定的地址（端口为 0 时由系统分配）
func (c *UDPConsumer) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Run 接收循环，阻塞直到 ctx 取消；接收超时只是让循环有机会检查停止信号
func (c *UDPConsumer) Run(ctx context.Context) error {
	c.logger.Info("Listening for fall data",
		zap.String("addr", c.conn.LocalAddr().String()),
		zap.Int("max_packet_size", c.maxPacketSize),
		zap.Float64("fall_threshold", c.classifier.Threshold()),
	)

	// 多读 1 字节用于识别超长数据报
	buf := make([]byte, c.maxPacketSize+1)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// socket 持续故障时按接收超时节流，避免空转刷日志
			c.metrics.ReceiveErrors.Inc()
			c.logger.Warn("UDP receive error", zap.Error(err), zap.Duration("retry_in", c.receiveTimeout))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.receiveTimeout):
			}
			continue
		}

		c.metrics.PacketsReceived.Inc()
		c.process(ctx, buf[:n], addr)
	}
}

// Close 关闭 socket
func (c *UDPConsumer) Close() error {
	return c.conn.Close()
}

// process 处理单个数据报并按错误分类记录日志，永不中断循环
func (c *UDPConsumer) process(ctx context.Context, payload []byte, from net.Addr) {
	err := c.HandlePacket(ctx, payload)
	if err == nil {
		return
	}

	sender := ""
	if from != nil {
		sender = from.String()
	}

	switch {
	case errors.Is(err, codec.ErrNonFinite):
		c.metrics.PacketsDropped.WithLabelValues(metrics.DropNonFinite).Inc()
		c.logger.Warn("Dropped invalid packet", zap.String("from", sender), zap.Error(err))
	case errors.Is(err, codec.ErrMalformed):
		c.metrics.PacketsDropped.WithLabelValues(metrics.DropMalformed).Inc()
		c.logger.Warn("Dropped malformed packet", zap.String("from", sender), zap.Error(err))
	case errors.Is(err, ErrStoreWrite):
		c.metrics.PacketsDropped.WithLabelValues(metrics.DropStoreError).Inc()
		c.logger.Error("Failed to write sensor state", zap.String("from", sender), zap.Error(err))
	default:
		c.metrics.PacketsDropped.WithLabelValues(metrics.DropUnexpected).Inc()
		c.logger.Error("Unexpected packet pipeline failure", zap.String("from", sender), zap.Error(err))
	}
}

// HandlePacket 解码、分类并写入单个数据报
func (c *UDPConsumer) HandlePacket(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpected, r)
		}
	}()

	reading, err := codec.Decode(payload, c.maxPacketSize)
	if err != nil {
		return err
	}

	state := c.classifier.Classify(reading)

	c.logger.Debug("Classified reading",
		zap.Int("sensor_id", state.SensorID),
		zap.String("ip", state.SourceAddress),
		zap.Float64s("gyro", []float64{state.Gyro.X, state.Gyro.Y, state.Gyro.Z}),
		zap.Float64s("accel", []float64{state.Accel.X, state.Accel.Y, state.Accel.Z}),
		zap.Float64("fall_index", state.GyroMagnitude),
		zap.Bool("fall", state.IsFalling),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := c.store.WriteState(writeCtx, state); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	c.metrics.StatesStored.Inc()
	if state.IsFalling {
		c.metrics.FallsClassified.Inc()
	}
	return nil
}
