// Package config provides 12-factor configuration management for the daemon.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility,
// and an optional YAML file supplies structured settings (workspace roots,
// ignore globs, notification targets) that are awkward as env vars.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Auth: access token for the control plane and socket upgrades
//   - Terminal: PTY multiplexer limits and sweep timing
//   - Agent: provider binaries, concurrency/cost ceilings, eviction timing
//   - Workspace: registered root directories
//   - Store: persistence driver selection (sqlite or file)
//   - Notify: Slack / webhook targets
//   - Logging, RateLimit, CORS
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, AUTH_TOKEN, CONFIG_FILE
//   - TERMINAL_SHELL, TERMINAL_IDLE_TIMEOUT, MAX_CONNS_PER_IP, MAX_MESSAGE_BYTES
//   - MAX_CONCURRENT_AGENTS, DEFAULT_MAX_COST_USD, AGENT_TTL
//   - WORKSPACE_ROOTS, STORE_DRIVER, STORE_PATH
//   - LOG_LEVEL, LOG_DEV, RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
