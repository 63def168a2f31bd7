// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/interfaces/http/handler"
	"deck-assistant-api/internal/interfaces/http/middleware"
	"deck-assistant-api/pkg/utils"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health *handler.HealthHandler
	Auth   *handler.AuthHandler
	Chat   *handler.ChatHandler
}

// Router HTTP 路由器
type Router struct {
	engine     *gin.Engine
	cfg        *config.Config
	jwtManager *utils.JWTManager
	handlers   Handlers
}

// New 创建路由器并注册全部路由
func New(cfg *config.Config, jwtManager *utils.JWTManager, handlers Handlers) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:     gin.New(),
		cfg:        cfg,
		jwtManager: jwtManager,
		handlers:   handlers,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) systemPaths() []string {
	paths := []string{"/health", "/ready", "/live"}
	if r.cfg.Observability.Metrics.Enabled {
		paths = append(paths, r.metricsPath())
	}
	return paths
}

func (r *Router) metricsPath() string {
	if p := r.cfg.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, r.systemPaths()...))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

func (r *Router) setupRoutes() {
	if h := r.handlers.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/ready", h.Ready)
		r.engine.GET("/live", h.Live)
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.metricsPath(), gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/api/v1")
	RegisterV1Routes(v1, middleware.Identity(r.jwtManager), r.handlers)
}
