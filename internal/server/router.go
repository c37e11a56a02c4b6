package server

import (
	"net/http"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/service"
	"chatrelay/internal/session"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、认证接口以及 WebSocket 端点。
func SetupRouter(cfg config.Config, st *store.Store, reg *session.Registry, d ws.Dispatcher, wsLimiter ws.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的 HTTP 速率，WebSocket 事件另有按连接的限速。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.NodeID})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(service.NewUserService(st, cfg))
	api := r.Group("/api/v1/auth")
	api.POST("/registration", h.Registration)
	api.POST("/login", h.Login)
	api.GET("/me", auth.AuthMiddleware(cfg.JWTSecret, st), h.Me)

	r.GET("/ws", ws.NewServer(reg, d, wsLimiter, cfg.WSMaxMessageBytes).Serve)
	return r
}
