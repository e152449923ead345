package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// handleMetrics returns all metrics
func (s *Server) handleMetrics(c *gin.Context) {
	txn := s.tracer.StartTransaction("get-metrics")
	defer s.tracer.EndTransaction(txn)

	// Add some real-time system metrics
	s.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))

	c.JSON(http.StatusOK, s.metrics.GetAllMetrics())
}

// handleHealth returns a simplified health status
func (s *Server) handleHealth(c *gin.Context) {
	healthChecks := s.metrics.GetHealthChecks()

	// Calculate overall health
	healthy := true
	for _, status := range healthChecks {
		if !status {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  healthy,
		"details": healthChecks,
	})
}
