package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	commonredis "github.com/AlexeyKoz/fall-detection-system/common/redis"
	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingPublisher struct {
	calls int32
	err   error
}

func (p *countingPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	atomic.AddInt32(&p.calls, 1)
	return p.err
}

func TestHub_FailingPublisherDoesNotBlockOthers(t *testing.T) {
	m := metrics.New()
	broken := &countingPublisher{err: errors.New("down")}
	healthy := &countingPublisher{}

	hub := NewHub(m, zap.NewNop(), NamedPublisher{Name: "mqtt", Publisher: broken})
	hub.Add("websocket", healthy)

	err := hub.Publish(context.Background(), models.NewStatusEvent(true, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, int32(1), broken.calls)
	assert.Equal(t, int32(1), healthy.calls)
	assert.Equal(t, []string{"mqtt", "websocket"}, hub.Names())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("mqtt")))
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.StatusEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev models.StatusEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWebSocketHub_BroadcastsToAllClients(t *testing.T) {
	m := metrics.New()
	hub := NewWebSocketHub(m, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	a := dialHub(t, srv)
	b := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DisplayClients))

	require.NoError(t, hub.Publish(context.Background(), models.NewStatusEvent(true, time.Now())))

	assert.True(t, readEvent(t, a).Falling)
	assert.True(t, readEvent(t, b).Falling)
}

func TestWebSocketHub_NewClientReceivesLastState(t *testing.T) {
	hub := NewWebSocketHub(nil, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	require.NoError(t, hub.Publish(context.Background(), models.NewStatusEvent(true, time.Now())))
	require.NoError(t, hub.Publish(context.Background(), models.NewStatusEvent(false, time.Now())))

	conn := dialHub(t, srv)
	assert.False(t, readEvent(t, conn).Falling)
}

func TestWebSocketHub_ClientDisconnectIsRemoved(t *testing.T) {
	hub := NewWebSocketHub(nil, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketHub_RejectsPlainHTTP(t *testing.T) {
	hub := NewWebSocketHub(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeMQTT struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topic, f.qos, f.retained, f.payload = topic, qos, retained, payload
	return nil
}

func TestMQTTPublisher_PublishesRetained(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "fall/status", 1)

	require.NoError(t, p.Publish(context.Background(), models.NewStatusEvent(true, time.Now())))

	assert.Equal(t, "fall/status", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.True(t, client.retained)
	assert.Contains(t, string(client.payload), `"falling":true`)
}

func TestStreamPublisher_AppendsEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewStreamPublisher(client, "fall:status:stream", 100)
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, models.NewStatusEvent(false, time.Now())))
	require.NoError(t, p.Publish(ctx, models.NewStatusEvent(true, time.Now())))

	msgs, err := commonredis.ReadRange(ctx, client, "fall:status:stream", "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var ev models.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &ev))
	assert.True(t, ev.Falling)
}

func TestStreamPublisher_StoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	p := NewStreamPublisher(client, "fall:status:stream", 100)
	err := p.Publish(context.Background(), models.NewStatusEvent(true, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fall:status:stream")
}

func TestWebhookPublisher_PostsJSON(t *testing.T) {
	var got models.StatusEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL+"/hook", time.Second, zap.NewNop())
	ev := models.NewStatusEvent(true, time.Now())
	require.NoError(t, p.Publish(context.Background(), ev))

	assert.Equal(t, ev.EventID, got.EventID)
	assert.True(t, got.Falling)
}

func TestWebhookPublisher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, time.Second, zap.NewNop())
	err := p.Publish(context.Background(), models.NewStatusEvent(false, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
