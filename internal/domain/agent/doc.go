/*
Package agent runs long-lived AI agent tasks as cancellable sessions.

# Overview

A session is created against a named provider, admitted under a global
concurrency ceiling, and driven to a terminal status by a dedicated
goroutine. Provider events become an ordered transcript; cost and
duration figures trip a mid-run circuit breaker the moment the session
ceiling is reached. Finished sessions persist until a TTL sweep evicts
them, and a startup reconciliation pass aborts anything a crash left
looking live.

# Components

  - Store: session records, validation, compaction, checkpoints,
    reconciliation, and TTL eviction
  - Engine: admission, provider execution, cancellation, finalization
  - Broadcaster: per-session fan-out of init/message/status events to
    subscribed streams with per-stream backpressure
  - Persistence: the durable storage contract implemented in the
    infrastructure layer

# Lifecycle

	idle -> running -> completed | error | aborted

Transitions only move forward. Cancellation always wins over error
classification: a provider failure observed after an abort still
finalizes as aborted. Every transition persists synchronously; running
transcripts additionally checkpoint every few messages.

# Example Usage

	store := agent.NewStore(cfg, persist, workspaces, logger)
	bcast := agent.NewBroadcaster(cfg.QueueSize, logger)
	engine := agent.NewEngine(cfg, store, bcast, registry, logger).WithMetrics(metrics)

	sess, err := engine.Create(ctx, agent.CreateRequest{
		Provider: "claude",
		Prompt:   "add tests for the parser",
		Cwd:      "myproject",
	})

	snap, sub, err := engine.Subscribe(sess.ID)
	for ev := range sub.Events() {
		// forward init snapshot, then message/status events
	}
*/
package agent
