package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"
	"github.com/AlexeyKoz/fall-detection-system/internal/notifier"
	"github.com/AlexeyKoz/fall-detection-system/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func state(id int, falling bool, at time.Time) models.ClassifiedState {
	return models.ClassifiedState{
		SensorID:      id,
		SourceAddress: "10.0.0.5",
		Gyro:          models.Vector3{X: 1200},
		GyroMagnitude: 1200,
		IsFalling:     falling,
		ObservedAt:    at,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// flakyStore 指定传感器读取失败
type flakyStore struct {
	repository.SensorStateStore
	failIDs map[int]error
	listErr error
}

func (s *flakyStore) KnownSensorIDs(ctx context.Context) ([]int, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.SensorStateStore.KnownSensorIDs(ctx)
}

func (s *flakyStore) ReadState(ctx context.Context, id int) (*models.ClassifiedState, error) {
	if err, ok := s.failIDs[id]; ok {
		return nil, err
	}
	return s.SensorStateStore.ReadState(ctx, id)
}

// cancellingStore 第一次读取时取消 ctx 并返回取消错误
type cancellingStore struct {
	repository.SensorStateStore
	cancel context.CancelFunc
	reads  int
}

func (s *cancellingStore) ReadState(ctx context.Context, id int) (*models.ClassifiedState, error) {
	s.reads++
	s.cancel()
	return nil, fmt.Errorf("read sensor_%d: %w", id, ctx.Err())
}

type publisherFunc func(ctx context.Context, ev models.StatusEvent) error

func (f publisherFunc) Publish(ctx context.Context, ev models.StatusEvent) error {
	return f(ctx, ev)
}

func TestPoll_FreshnessBoundary(t *testing.T) {
	store := repository.NewMemoryStateStore()
	ctx := context.Background()
	require.NoError(t, store.WriteState(ctx, state(1, true, t0)))

	window := 5 * time.Second
	cases := []struct {
		now   time.Time
		fresh bool
	}{
		{t0, true},
		{t0.Add(window - time.Millisecond), true},
		{t0.Add(window), false},
		{t0.Add(window + time.Second), false},
	}

	for _, tc := range cases {
		t.Run(tc.now.Sub(t0).String(), func(t *testing.T) {
			p := New(store, 100*time.Millisecond, window, fixedClock(tc.now), nil, zap.NewNop())
			snap, err := p.Poll(ctx)
			require.NoError(t, err)
			require.Contains(t, snap, 1)
			assert.Equal(t, tc.fresh, snap[1].IsFresh)
			assert.True(t, snap[1].IsFalling)
		})
	}
}

func TestPoll_NeverWrittenSensorIsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := repository.NewRedisStateStore(client, "sensor_", []int{1, 2}, zap.NewNop())
	require.NoError(t, store.WriteState(context.Background(), state(1, false, t0)))

	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), nil, zap.NewNop())
	snap, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, snap.SensorIDs())
	assert.True(t, snap[1].IsFresh)
}

func TestPoll_ReadErrorDropsOnlyThatSensor(t *testing.T) {
	mem := repository.NewMemoryStateStore()
	ctx := context.Background()
	require.NoError(t, mem.WriteState(ctx, state(1, true, t0)))
	require.NoError(t, mem.WriteState(ctx, state(2, false, t0)))
	require.NoError(t, mem.WriteState(ctx, state(3, false, t0)))

	store := &flakyStore{
		SensorStateStore: mem,
		failIDs: map[int]error{
			1: fmt.Errorf("read sensor_1: %w", errors.New("i/o timeout")),
			3: fmt.Errorf("%w: bad timestamp", repository.ErrCorruptRecord),
		},
	}
	m := metrics.New()
	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), m, zap.NewNop())

	snap, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, snap.SensorIDs())
	assert.False(t, snap.AnyFalling(true))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollReadErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorsFresh))
}

func TestPoll_ListErrorFailsCycle(t *testing.T) {
	store := &flakyStore{
		SensorStateStore: repository.NewMemoryStateStore(),
		listErr:          errors.New("connection refused"),
	}
	m := metrics.New()
	p := New(store, 100*time.Millisecond, 5*time.Second, nil, m, zap.NewNop())

	snap, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollReadErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollCycles))

	called := false
	p.cycle(context.Background(), []SnapshotHandler{SnapshotHandlerFunc(func(context.Context, models.Snapshot) {
		called = true
	})})
	assert.False(t, called)
}

func TestCycle_StoreOutageKeepsNotifierQuiet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	store := repository.NewRedisStateStore(client, "sensor_", nil, zap.NewNop())
	require.NoError(t, store.WriteState(context.Background(), state(2, true, t0)))

	var emitted []bool
	pub := publisherFunc(func(ctx context.Context, ev models.StatusEvent) error {
		emitted = append(emitted, ev.Falling)
		return nil
	})
	n := notifier.New(pub, true, nil, zap.NewNop())
	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), nil, zap.NewNop())
	handlers := []SnapshotHandler{n}
	ctx := context.Background()

	p.cycle(ctx, handlers)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	p.cycle(ctx, handlers)
	p.cycle(ctx, handlers)

	mr.SetError("")
	p.cycle(ctx, handlers)

	assert.Equal(t, []bool{true}, emitted)
	falling, known := n.Last()
	assert.True(t, known)
	assert.True(t, falling)
}

func TestCycle_ConfiguredSensorsAllUnreadable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	store := repository.NewRedisStateStore(client, "sensor_", []int{1, 2}, zap.NewNop())
	require.NoError(t, store.WriteState(context.Background(), state(2, true, t0)))

	var snaps []models.Snapshot
	handler := SnapshotHandlerFunc(func(ctx context.Context, s models.Snapshot) {
		snaps = append(snaps, s)
	})
	m := metrics.New()
	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), m, zap.NewNop())

	mr.SetError("LOADING Redis is loading the dataset in memory")
	p.cycle(context.Background(), []SnapshotHandler{handler})
	assert.Empty(t, snaps)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollReadErrors))

	mr.SetError("")
	p.cycle(context.Background(), []SnapshotHandler{handler})
	require.Len(t, snaps, 1)
	assert.Equal(t, []int{2}, snaps[0].SensorIDs())
	assert.True(t, snaps[0].AnyFalling(true))
}

func TestPoll_CancelledMidCycleIsQuiet(t *testing.T) {
	mem := repository.NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for id := 1; id <= 3; id++ {
		require.NoError(t, mem.WriteState(ctx, state(id, false, t0)))
	}

	// 读第一个传感器时触发关停
	store := &cancellingStore{SensorStateStore: mem, cancel: cancel}
	m := metrics.New()
	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), m, zap.NewNop())

	snap, err := p.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, snap)
	assert.Equal(t, 1, store.reads)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollReadErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollCycles))
}

func TestPoll_CountsFreshAndStale(t *testing.T) {
	store := repository.NewMemoryStateStore()
	ctx := context.Background()
	require.NoError(t, store.WriteState(ctx, state(1, false, t0)))
	require.NoError(t, store.WriteState(ctx, state(2, false, t0.Add(-10*time.Second))))

	m := metrics.New()
	p := New(store, 100*time.Millisecond, 5*time.Second, fixedClock(t0), m, zap.NewNop())
	_, err := p.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorsFresh))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorsStale))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCycles))
}

func TestRun_DeliversSnapshotsUntilCancelled(t *testing.T) {
	store := repository.NewMemoryStateStore()
	require.NoError(t, store.WriteState(context.Background(), state(1, true, time.Now())))

	p := New(store, 10*time.Millisecond, 5*time.Second, nil, nil, zap.NewNop())

	var mu sync.Mutex
	var snaps []models.Snapshot
	handler := SnapshotHandlerFunc(func(ctx context.Context, s models.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, handler) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, snaps[0].AnyFalling(true))
}
