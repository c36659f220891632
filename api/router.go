package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/config"
)

// NewRouter creates the Gin engine of the status server.
//
// Middleware chain:
//
//	Global:    Recovery → Logger
//	Protected: Auth (if keys are configured)
//
// Health stays outside auth so liveness probes always work.
func NewRouter(p handler.Progress, gatherer prometheus.Gatherer, cfg config.StatusConfig, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(p, startTime))

	protected := r.Group("")
	protected.Use(middleware.Auth(cfg.APIKeys))
	protected.GET("/api/v1/progress", handler.GetProgress(p))
	protected.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// NewServer wraps the router in an http.Server listening on cfg.Addr.
func NewServer(router http.Handler, cfg config.StatusConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
