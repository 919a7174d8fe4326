package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	rediscommon "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/codec"
	"github.com/AlexeyKoz/fall-detection-system/internal/config"
	httpapi "github.com/AlexeyKoz/fall-detection-system/internal/http"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// syncBuffer 并发安全的输出缓冲
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Receiver.ListenAddress = "127.0.0.1"
	cfg.Receiver.ListenPort = 0
	cfg.Receiver.ReceiveTimeoutMs = 20
	cfg.Poller.PollIntervalMs = 10
	cfg.Monitor.PrintIntervalMs = 10
	cfg.Monitor.FallLogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Status.HTTPAddr = "127.0.0.1:0"
	return cfg
}

func seedState(t *testing.T, mr *miniredis.Miniredis, state models.ClassifiedState) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := repository.NewRedisStateStore(client, "sensor_", nil, zap.NewNop())
	require.NoError(t, store.WriteState(context.Background(), state))
}

func stop(t *testing.T, stopper interface{ Stop(context.Context) error }) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stopper.Stop(ctx))
}

func TestReceiverService_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	svc, err := NewReceiverService(testConfig(t, mr), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	conn, err := net.Dial("udp", svc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	packet := codec.Encode(&models.SensorReading{
		SensorID:      1,
		SourceAddress: "10.0.0.5",
		Gyro:          models.Vector3{X: 1200},
		Accel:         models.Vector3{Z: 9.81},
	})
	_, err = conn.Write(packet)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mr.Exists("sensor_1") && mr.HGet("sensor_1", "fall") == "true"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "10.0.0.5", mr.HGet("sensor_1", "ip"))

	stop(t, svc)
	stop(t, svc)
}

func TestNewReceiverService_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	mr.Close()

	_, err := NewReceiverService(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestMonitorService_ReportsAndLogsFalls(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	seedState(t, mr, models.ClassifiedState{
		SensorID:      2,
		SourceAddress: "10.0.0.6",
		Gyro:          models.Vector3{X: 1500},
		GyroMagnitude: 1500,
		IsFalling:     true,
		ObservedAt:    time.Now(),
	})

	out := &syncBuffer{}
	svc, err := newMonitorService(cfg, out, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer stop(t, svc)

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(cfg.Monitor.FallLogDir, "falls_*.txt"))
		if len(matches) != 1 {
			return false
		}
		data, _ := os.ReadFile(matches[0])
		return bytes.Contains(data, []byte("FALL detected!"))
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Sensor 2 [10.0.0.6]: OK"))
	}, 2*time.Second, 10*time.Millisecond)

	matches, _ := filepath.Glob(filepath.Join(cfg.Monitor.FallLogDir, "falls_*.txt"))
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("FALL detected!")))
}

func TestStatusService_PushesChanges(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Status.StreamEnabled = true

	svc, err := NewStatusService(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer stop(t, svc)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	readFalling := func() bool {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev models.StatusEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev.Falling
	}

	assert.False(t, readFalling())

	seedState(t, mr, models.ClassifiedState{
		SensorID:      1,
		SourceAddress: "10.0.0.5",
		GyroMagnitude: 1200,
		IsFalling:     true,
		ObservedAt:    time.Now(),
	})
	assert.True(t, readFalling())

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + svc.Addr() + "/api/v1/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body httpapi.Result[httpapi.StatusView]
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Result.Known && body.Result.Falling
	}, 2*time.Second, 10*time.Millisecond)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	msgs, err := rediscommon.ReadRange(context.Background(), client, cfg.Status.StreamName, "-", "+")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStatusService_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Status.HTTPAddr = ln.Addr().String()

	svc, err := NewStatusService(cfg, zap.NewNop())
	require.NoError(t, err)
	err = svc.Start(context.Background())
	require.Error(t, err)
	stop(t, svc)
}

func TestDetectorService_MemoryBackendEndToEnd(t *testing.T) {
	cfg := testConfig(t, miniredis.RunT(t))
	cfg.Store.Backend = config.StoreBackendMemory
	// Redis 地址不可达也不影响内存后端
	cfg.Redis.Addr = "127.0.0.1:1"

	out := &syncBuffer{}
	svc, err := newDetectorService(cfg, out, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer stop(t, svc)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	readFalling := func() bool {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev models.StatusEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev.Falling
	}
	assert.False(t, readFalling())

	conn, err := net.Dial("udp", svc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(codec.Encode(&models.SensorReading{
		SensorID:      5,
		SourceAddress: "10.0.0.9",
		Gyro:          models.Vector3{Y: 1800},
		Accel:         models.Vector3{Z: 2.5},
	}))
	require.NoError(t, err)

	assert.True(t, readFalling())

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Sensor 5 [10.0.0.9]: OK"))
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(cfg.Monitor.FallLogDir, "falls_*.txt"))
		if len(matches) != 1 {
			return false
		}
		data, _ := os.ReadFile(matches[0])
		return bytes.Contains(data, []byte("FALL detected!"))
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSplitServices_RejectMemoryBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Store.Backend = config.StoreBackendMemory

	_, err := NewReceiverService(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fall-detector")

	_, err = newMonitorService(cfg, &syncBuffer{}, zap.NewNop())
	require.Error(t, err)

	_, err = NewStatusService(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestDetectorService_BindFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)

	first, err := newDetectorService(cfg, &syncBuffer{}, zap.NewNop())
	require.NoError(t, err)
	defer stop(t, first)

	cfg.Receiver.ListenPort = first.LocalAddr().(*net.UDPAddr).Port
	_, err = newDetectorService(cfg, &syncBuffer{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind UDP")
}
