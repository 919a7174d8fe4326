package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

const (
	defaultFallsLimit = 50
	maxFallsLimit     = 500
)

// StatusSource 最近一次发布的聚合状态
type StatusSource interface {
	Last() (falling bool, known bool)
}

// FallHistory 跌倒记录查询（未启用数据库时为 nil）
type FallHistory interface {
	ListFallEventsSince(ctx context.Context, since time.Time, limit int) ([]models.FallRecord, error)
}

// HealthCheck 依赖检查（如 Redis ping）
type HealthCheck func(ctx context.Context) error

// StatusView /api/v1/status 返回体
type StatusView struct {
	Falling bool `json:"falling"`
	Known   bool `json:"known"`
}

// StatusHandler 状态相关处理器
type StatusHandler struct {
	status  StatusSource
	history FallHistory
	health  HealthCheck
	logger  *zap.Logger
}

func NewStatusHandler(status StatusSource, history FallHistory, health HealthCheck, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		status:  status,
		history: history,
		health:  health,
		logger:  logger,
	}
}

// DisplayPage 全屏 FALL / STABLE 显示页
func (h *StatusHandler) DisplayPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(displayPageHTML))
}

// GetStatus 当前聚合状态；known=false 表示还没有完成过一次轮询
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	falling, known := h.status.Last()
	writeJSON(w, http.StatusOK, Ok(StatusView{Falling: falling, Known: known}))
}

// ListFalls 查询跌倒记录：?since=RFC3339&limit=N（默认最近 24 小时）
func (h *StatusHandler) ListFalls(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, Fail("fall history is not enabled"))
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid since, expected RFC3339"))
			return
		}
		since = t
	}

	limit := parseInt(r.URL.Query().Get("limit"), defaultFallsLimit)
	if limit <= 0 || limit > maxFallsLimit {
		limit = defaultFallsLimit
	}

	records, err := h.history.ListFallEventsSince(r.Context(), since, limit)
	if err != nil {
		h.logger.Error("Failed to list fall events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list fall events"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(records))
}

// Health 健康检查
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, Fail(err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, Ok("ok"))
}
