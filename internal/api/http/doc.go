// Package http provides the REST control plane for the deckd daemon.
//
// Handlers bind JSON requests, dispatch to the domain registries, and map
// sentinel errors onto HTTP status codes. Domain rules never live here.
//
// Endpoints:
//   - System: /, /health, /api/metrics
//   - Terminals: /api/terminals, /api/terminals/:id, plus input, resize,
//     and buffer sub-resources
//   - Agents: /api/agents, /api/agents/:id
//   - Workspaces: /api/workspaces, /api/workspaces/:id/projects
//
// Status code mapping:
//   - validation failures and malformed bodies: 400
//   - unknown resources: 404
//   - writes against disposed or finished resources: 409
//   - agent concurrency ceiling: 429
//
// Example Usage:
//
//	handlers := http.NewHandlers(terminals, engine, workspaces, metrics, logger)
//	router.GET("/health", handlers.Health)
//	router.POST("/api/terminals", handlers.CreateTerminal)
package http
