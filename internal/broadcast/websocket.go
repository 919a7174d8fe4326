package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/metrics"
	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 2 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 8
)

// wsClient 单个显示端连接
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// WebSocketHub 实时显示端推送
// 新连接立即收到最近一次的状态；发送缓冲满的慢客户端直接断开
type WebSocketHub struct {
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
	closed  bool
}

// NewWebSocketHub 创建显示端推送
func NewWebSocketHub(m *metrics.Metrics, logger *zap.Logger) *WebSocketHub {
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: m,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Publish 广播给所有已连接的显示端
func (h *WebSocketHub) Publish(ctx context.Context, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = payload
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Dropping slow display client", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
	return nil
}

// ClientCount 当前连接数
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler /ws 升级处理器
func (h *WebSocketHub) Handler() http.Handler {
	return http.HandlerFunc(h.serveWS)
}

func (h *WebSocketHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.logger.Info("Display client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", n),
	)

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只用来感知断开和处理 pong
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *WebSocketHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *WebSocketHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.setGauge(len(h.clients))
}

func (h *WebSocketHub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.DisplayClients.Set(float64(n))
	}
}

// Close 断开所有显示端，之后的连接直接拒绝
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
