package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/metrics"
)

// HealthChecker reports the readiness of one dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Version     string
	Environment string
	LogoBaseURL string
	MetricsPath string
	HealthPath  string
}

// Router builds the gin engine for the service
type Router struct {
	config   RouterConfig
	handlers *Handlers
	logger   *logging.Logger
	metrics  *metrics.Metrics
	health   map[string]HealthChecker
}

// NewRouter creates the router around the handlers
func NewRouter(config RouterConfig, handlers *Handlers, logger *logging.Logger,
	m *metrics.Metrics, health map[string]HealthChecker) *Router {
	return &Router{
		config:   config,
		handlers: handlers,
		logger:   logger,
		metrics:  m,
		health:   health,
	}
}

// Engine assembles routes and middleware
func (r *Router) Engine() *gin.Engine {
	if r.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(r.requestContext())
	engine.Use(r.accessLog())

	engine.GET(r.config.HealthPath, r.healthHandler)
	engine.GET(r.config.MetricsPath, gin.WrapH(metrics.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/about", r.handlers.About)
		v1.GET("/contracts", r.handlers.ListContracts)
		v1.GET("/contracts/:address", r.handlers.GetContractsByAddress)
		v1.POST("/data-decoder", r.handlers.DataDecoder)
	}

	return engine
}

// requestContext assigns every request an id carried through logging
func (r *Router) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithRequestID(c.Request.Context(), c.GetHeader(logging.RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(logging.RequestIDHeader, logging.GetRequestID(ctx))
		c.Next()
	}
}

// accessLog emits one structured line per request and feeds the metrics
func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		elapsed := time.Since(started)

		status := c.Writer.Status()
		r.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   status,
			"duration": elapsed.String(),
		}).Info("Request handled")

		if r.metrics != nil {
			r.metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), statusLabel(status)).Inc()
			r.metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(elapsed.Seconds())
		}
	}
}

func statusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (r *Router) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()
	result := make(map[string]string, len(r.health))
	healthy := true

	for name, checker := range r.health {
		if err := checker.HealthCheck(ctx); err != nil {
			result[name] = err.Error()
			healthy = false
		} else {
			result[name] = "ok"
		}
	}

	status := 200
	if !healthy {
		status = 503
	}
	c.JSON(status, result)
}
