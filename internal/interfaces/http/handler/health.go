package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 依赖的健康探测
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version  string
	postgres Pinger
	redis    Pinger
	milvus   Pinger
}

// NewHealthHandler milvus 可为 nil，表示未启用片段检索
func NewHealthHandler(version string, postgres, redis, milvus Pinger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		postgres: postgres,
		redis:    redis,
		milvus:   milvus,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks"`
}

// Health 健康检查
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Live 存活检查
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 就绪检查：postgres 与 redis 必需，milvus 失败只标记 degraded
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]*readinessCheck{
		"postgres": probe(ctx, h.postgres, true),
		"redis":    probe(ctx, h.redis, true),
		"milvus":   probe(ctx, h.milvus, false),
	}

	resp := readinessResponse{Status: "ok", Checks: checks}
	for _, name := range []string{"postgres", "redis"} {
		if checks[name].Status != "ok" {
			resp.Status = "not_ready"
		}
	}
	if resp.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func probe(ctx context.Context, p Pinger, required bool) *readinessCheck {
	if p == nil {
		if required {
			return &readinessCheck{Status: "missing", Error: "client not configured"}
		}
		return &readinessCheck{Status: "disabled"}
	}

	start := time.Now()
	err := p.HealthCheck(ctx)
	check := &readinessCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Error = err.Error()
		check.Status = "error"
		if !required {
			check.Status = "degraded"
		}
	}
	return check
}
