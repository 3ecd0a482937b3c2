package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker is a dependency probed by /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler reports service and dependency health
type HealthHandler struct {
	caller   string
	inFlight func() int
	checks   map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler. inFlight may be nil.
func NewHealthHandler(caller string, inFlight func() int, checks map[string]HealthChecker) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthHandler{caller: caller, inFlight: inFlight, checks: checks}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			status = "unhealthy"
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{
		"status": status,
		"caller": h.caller,
		"checks": results,
	}
	if h.inFlight != nil {
		body["in_flight"] = h.inFlight()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}
