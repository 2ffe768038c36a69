// Package main is the entry point for the deckd daemon.
//
// deckd is the session layer of a browser-accessible dev environment:
// it multiplexes PTY-backed terminals to WebSocket clients and runs
// long-lived AI agent sessions against CLI providers, with durable
// checkpoints and live event streams.
//
// The daemon provides:
//   - REST API for terminal, agent, and workspace management
//   - WebSocket gateways for terminal I/O and agent event streams
//   - Durable agent session store (SQLite or gzip file records)
//   - Prometheus metrics, rate limiting, token auth
//
// Configuration:
//   - Environment variables (12-factor), .env loaded in development
//   - Optional YAML overlay for workspace roots and notifiers
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./deckd -port 8080
//
//	# Development mode (colored logs, debug level)
//	./deckd -dev
//
//	# Explicit config file
//	./deckd -config /etc/deckd/deckd.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
