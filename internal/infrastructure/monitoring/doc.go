/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the daemon,
tracking HTTP requests, terminal and agent session lifecycles, WebSocket
traffic, broadcast delivery, and persistence operations.

# Features

- HTTP request metrics (latency, throughput, status)
- Terminal session metrics (active count, attached sockets, relayed bytes, drops)
- Agent session metrics (active count, run durations, cost, terminal statuses)
- Broadcast metrics (delivered events, drops, subscribed streams)
- Guard and sweeper metrics (rejections, evictions)
- Persistence metrics (operation counts and durations)
- Run duration quantile summaries backed by a bounded reservoir

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record lifecycle events
	metrics.IncTerminals()
	metrics.DecTerminals("idle")

	// Time persistence operations
	timer := monitoring.NewStoreTimer(metrics, "save")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
