/*
Package tracing provides lightweight request tracing.

# Overview

This package implements span-based tracing for the control plane. It
follows OpenTelemetry concepts with a minimal zap-backed implementation:
finished spans are queued to a buffered collector and emitted as
structured log entries.

# Usage

	// Create tracer
	tracer := tracing.New("deckd", logger)
	defer tracer.Close()

	// HTTP middleware
	router.Use(tracing.Middleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("key", "value")

# Trace Format

Traces use standard HTTP headers for propagation:
  - X-Trace-ID: unique identifier for the entire request flow
  - X-Span-ID: identifier for the current operation

Both are echoed on responses so browser clients can correlate.
*/
package tracing
