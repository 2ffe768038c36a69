package persistence

import (
	"fmt"
	"strings"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// Store persists agent sessions and can release its backing resources.
type Store interface {
	agent.Persistence
	Close() error
}

// New creates a store for the configured driver. An empty driver selects
// SQLite.
func New(driver, path string, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "deckd.db"
		}
		return NewSQLite(path, logger)
	case "file":
		if path == "" {
			path = "sessions"
		}
		return NewFile(path, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
