package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckworks/deckd/internal/domain/workspace"
)

// ListWorkspaces lists registered workspace roots
func (h *Handlers) ListWorkspaces(c *gin.Context) {
	roots := h.workspaces.ListRegistered()

	c.JSON(http.StatusOK, gin.H{
		"workspaces": roots,
		"count":      len(roots),
	})
}

// ListProjects scans one workspace root for project directories
func (h *Handlers) ListProjects(c *gin.Context) {
	rootID := c.Param("id")

	projects, err := h.workspaces.Projects(c.Request.Context(), rootID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workspace.ErrRootNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace_id": rootID,
		"projects":     projects,
		"count":        len(projects),
	})
}
