package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Root handles the banner endpoint
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "deckd",
		"version": Version,
	})
}

// Health handles liveness checks with headline resource counts
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"terminals": gin.H{"active": h.terminals.Count()},
		"agents":    gin.H{"running": h.engine.Running()},
	})
}

// Stats serves the aggregated JSON metrics snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.BuildStats())
}
