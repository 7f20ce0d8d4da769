package server

import (
	"net/http"
	"time"

	"github.com/danmuck/wsharness/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func (m *Manager) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	role := string(m.cfg.Role)

	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	// The websocket route sits outside the request middleware: the handler
	// lives as long as the connection. A path colliding with an admin route
	// is left unmounted and reported by Config.Validate.
	if isAdminPath(m.cfg.Path) {
		log.Error().Str("path", m.cfg.Path).Msg("websocket path collides with admin route")
	} else {
		r.GET(m.cfg.Path, func(c *gin.Context) {
			m.ServeWS(c.Writer, c.Request)
		})
	}

	admin := r.Group("/")
	admin.Use(observability.RequestLogger(log.Logger, role))
	admin.Use(observability.RequestMetricsMiddleware(role))
	admin.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(m.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	admin.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(m.started).String(),
			"role":    role,
			"version": version,
		})
	})

	admin.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":          m.factory != nil,
			"role":           role,
			"active_clients": m.ActiveConnections(),
		})
	})

	admin.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": m.Connections(),
		})
	})

	admin.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
