package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-ledger-api/internal/service"
)

// Pinger is any dependency whose liveness gates readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type cachePinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	db      Pinger
	cache   cachePinger
}

// NewMetricsHandler constructs a metrics handler. db and cache may be nil.
func NewMetricsHandler(metrics *service.MetricsService, db Pinger, cache cachePinger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, db: db, cache: cache}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports 503 until the database (and the cache, when configured) answer a ping.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		}
	}
	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			ready = false
		}
	}

	status, label := http.StatusOK, "ready"
	if !ready {
		status, label = http.StatusServiceUnavailable, "not_ready"
	}
	c.JSON(status, gin.H{"status": label, "checks": checks})
}
