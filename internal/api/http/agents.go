package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckworks/deckd/internal/domain/agent"
)

// CreateAgent admits and starts a new agent run
func (h *Handlers) CreateAgent(c *gin.Context) {
	var req agent.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(agentStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sess)
}

// ListAgents lists agent sessions, optionally for one deck
func (h *Handlers) ListAgents(c *gin.Context) {
	sessions := h.engine.List(c.Query("deck_id"))

	c.JSON(http.StatusOK, gin.H{
		"agents": sessions,
		"count":  len(sessions),
	})
}

// GetAgent returns one agent session with its transcript
func (h *Handlers) GetAgent(c *gin.Context) {
	sess, err := h.engine.Get(c.Param("id"))
	if err != nil {
		c.JSON(agentStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sess)
}

// DeleteAgent aborts a running session or removes a finished one
func (h *Handlers) DeleteAgent(c *gin.Context) {
	agentID := c.Param("id")

	if err := h.engine.Delete(c.Request.Context(), agentID); err != nil {
		c.JSON(agentStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"agent_id": agentID,
	})
}

// agentStatus maps engine errors onto HTTP status codes.
func agentStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrTerminal):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
