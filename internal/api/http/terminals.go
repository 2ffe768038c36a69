package http

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckworks/deckd/internal/domain/terminal"
)

// CreateTerminal spawns a new PTY session
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req struct {
		DeckID string            `json:"deck_id"`
		Title  string            `json:"title"`
		Cwd    string            `json:"cwd"`
		Shell  string            `json:"shell"`
		Cols   int               `json:"cols"`
		Rows   int               `json:"rows"`
		Env    map[string]string `json:"env"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.terminals.Create(terminal.CreateOptions{
		DeckID: req.DeckID,
		Title:  req.Title,
		Cwd:    req.Cwd,
		Shell:  req.Shell,
		Cols:   req.Cols,
		Rows:   req.Rows,
		Env:    req.Env,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrInvalidCwd) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// ListTerminals lists all live terminal sessions
func (h *Handlers) ListTerminals(c *gin.Context) {
	infos := h.terminals.List()

	c.JSON(http.StatusOK, gin.H{
		"terminals": infos,
		"count":     len(infos),
	})
}

// GetTerminal returns one terminal session
func (h *Handlers) GetTerminal(c *gin.Context) {
	info, err := h.terminals.Get(c.Param("id"))
	if err != nil {
		c.JSON(terminalStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// DeleteTerminal disposes a terminal session
func (h *Handlers) DeleteTerminal(c *gin.Context) {
	terminalID := c.Param("id")

	if !h.terminals.Dispose(terminalID) {
		c.JSON(http.StatusNotFound, gin.H{"error": terminal.ErrNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"terminal_id": terminalID,
	})
}

// TerminalInput writes input bytes to the PTY
func (h *Handlers) TerminalInput(c *gin.Context) {
	var req struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be base64 encoded"})
		return
	}

	if err := h.terminals.Write(c.Param("id"), data); err != nil {
		c.JSON(terminalStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bytes":   len(data),
	})
}

// ResizeTerminal changes the PTY dimensions
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.terminals.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		c.JSON(terminalStatus(err), gin.H{"error": err.Error()})
		return
	}

	// Re-read so the response carries the clamped dimensions.
	info, err := h.terminals.Get(c.Param("id"))
	if err != nil {
		c.JSON(terminalStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// TerminalBuffer returns the buffered output snapshot
func (h *Handlers) TerminalBuffer(c *gin.Context) {
	data, err := h.terminals.Buffer(c.Param("id"))
	if err != nil {
		c.JSON(terminalStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"terminal_id": c.Param("id"),
		"data":        base64.StdEncoding.EncodeToString(data),
	})
}

// terminalStatus maps terminal registry errors onto HTTP status codes.
func terminalStatus(err error) int {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrDisposed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
