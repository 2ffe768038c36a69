package http

import (
	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/domain/terminal"
	"github.com/deckworks/deckd/internal/domain/workspace"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
)

// Version is reported on the banner endpoint.
const Version = "0.1.0"

// Handlers contains all REST handlers. Domain rules live in the
// registries; handlers only bind requests, dispatch, and map errors to
// status codes.
type Handlers struct {
	terminals  *terminal.Registry
	engine     *agent.Engine
	workspaces *workspace.Registry
	metrics    *monitoring.Metrics
	logger     *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(
	terminals *terminal.Registry,
	engine *agent.Engine,
	workspaces *workspace.Registry,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		terminals:  terminals,
		engine:     engine,
		workspaces: workspaces,
		metrics:    metrics,
		logger:     logger.Component("http"),
	}
}
