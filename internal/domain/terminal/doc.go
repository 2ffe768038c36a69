/*
Package terminal multiplexes PTY-backed shell sessions for browser clients.

# Overview

Each session owns one shell process attached to a pseudo-terminal. A
single pump goroutine drains PTY output into a fixed-size ring buffer
and fans it out to every attached client sink. Attaching replays the
buffer so a reconnecting client recovers recent scrollback, then
streams live output; a sink that cannot keep up loses chunks without
stalling the PTY or its siblings.

# Components

  - Registry: session lifecycle, lookup, fan-out, and the idle sweep
  - Session: one PTY process plus its ring buffer and client sinks
  - Buffer: byte ring holding the most recent output for replay
  - Handle/SpawnFunc: the PTY seam; production spawns via creack/pty,
    tests substitute an in-memory fake

# Lifecycle

Sessions are created against a workspace-validated working directory
and disposed on request, on process exit, on idle timeout when no
client is attached, or on daemon shutdown. Disposal kills the process,
closes every sink, and is idempotent.

# Example Usage

	registry := terminal.NewRegistry(cfg, workspaces, logger).WithMetrics(metrics)

	info, err := registry.Create(terminal.CreateOptions{Shell: "/bin/zsh"})

	replay, sink, err := registry.Attach(info.ID, connID)
	// write replay to the socket, then forward chunks from sink

	registry.Write(info.ID, []byte("ls\n"))
	registry.Resize(info.ID, 120, 40)
	registry.Detach(info.ID, connID)
	registry.Dispose(info.ID)
*/
package terminal
