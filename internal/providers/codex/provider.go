package codex

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/providers"
)

const installHint = "npm install -g @openai/codex"

// Provider runs agent tasks through the Codex CLI in JSON mode. Each
// stdout line wraps one event under a "msg" envelope.
type Provider struct {
	bin    string
	logger *logging.Logger
}

// New creates a codex provider. An empty bin falls back to "codex"
// resolved from PATH.
func New(bin string, logger *logging.Logger) *Provider {
	if bin == "" {
		bin = "codex"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{bin: bin, logger: logger.Component("provider.codex")}
}

// Name returns the registry key for this provider
func (p *Provider) Name() string {
	return "codex"
}

// Run executes the CLI and forwards normalized events until the stream
// ends, ctx is cancelled, or emit rejects an event.
func (p *Provider) Run(ctx context.Context, req providers.Request, emit providers.EmitFunc) error {
	// "-" reads the prompt from stdin, keeping long prompts off the
	// argument list.
	args := []string{
		"exec",
		"--json",
		"--skip-git-repo-check",
		"-",
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Dir = req.Cwd
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = os.Environ()

	p.logger.Info("Starting codex run",
		zap.String("cwd", req.Cwd),
		zap.Int("prompt_chars", len(req.Prompt)))

	return providers.Stream(cmd, p.bin, installHint, parseLine, emit, p.logger)
}

type eventLine struct {
	ID  string   `json:"id"`
	Msg eventMsg `json:"msg"`
}

type eventMsg struct {
	Type             string   `json:"type"`
	Message          string   `json:"message"`
	Command          []string `json:"command"`
	Stdout           string   `json:"stdout"`
	LastAgentMessage string   `json:"last_agent_message"`
}

// parseLine maps one JSON event line to a normalized event. Progress
// notifications like token counts parse cleanly but produce no event.
func parseLine(line []byte) (providers.Event, bool, error) {
	var parsed eventLine
	if err := sonic.Unmarshal(line, &parsed); err != nil {
		return providers.Event{}, false, err
	}

	switch parsed.Msg.Type {
	case "task_started":
		return providers.Event{Type: providers.EventSystem, Result: "init"}, true, nil

	case "agent_message":
		return providers.Event{
			Type:   providers.EventAssistant,
			Blocks: []providers.Block{{Type: "text", Text: parsed.Msg.Message}},
		}, true, nil

	case "exec_command_begin":
		return providers.Event{
			Type: providers.EventAssistant,
			Blocks: []providers.Block{{
				Type:      "tool_use",
				ToolName:  "shell",
				ToolInput: strings.Join(parsed.Msg.Command, " "),
			}},
		}, true, nil

	case "exec_command_end":
		// Tool output surfaces as a user-role event, mirroring the
		// transcript shape of the other provider.
		ev := providers.Event{Type: providers.EventUser}
		if parsed.Msg.Stdout != "" {
			ev.Blocks = []providers.Block{{Type: "text", Text: parsed.Msg.Stdout}}
		}
		return ev, true, nil

	case "task_complete":
		return providers.Event{Type: providers.EventResult, Result: parsed.Msg.LastAgentMessage}, true, nil

	case "error":
		return providers.Event{Type: providers.EventResult, Result: parsed.Msg.Message, IsError: true}, true, nil
	}

	return providers.Event{}, false, nil
}
