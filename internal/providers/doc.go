/*
Package providers defines the run contract external agent CLIs are
adapted to.

# Overview

Each subpackage wraps one command-line agent (Claude Code, Codex) and
exposes a single blocking Run call: events parsed from the CLI's streaming
JSON output are normalized into a common Event shape and pushed to the
caller in stream order. Cancellation flows through the context, which
kills the child process.

# Components

  - Provider: the run contract implemented by every adapter
  - Registry: name-to-provider lookup populated at construction
  - Stream: shared subprocess line-stream driver used by the adapters
  - MissingBinaryError: typed error carrying an install hint

# Example Usage

	reg := providers.NewRegistry(
		claude.New(cfg.ClaudeBin, logger),
		codex.New(cfg.CodexBin, logger),
	)

	p, ok := reg.Get("claude")
	if !ok {
		return fmt.Errorf("unknown provider")
	}
	err := p.Run(ctx, providers.Request{Prompt: prompt, Cwd: cwd}, func(ev providers.Event) error {
		// consume normalized events
		return nil
	})
*/
package providers
