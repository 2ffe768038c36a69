package claude

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/providers"
)

const installHint = "npm install -g @anthropic-ai/claude-code"

// Provider runs agent tasks through the Claude Code CLI in streaming JSON
// mode. Each stdout line is one JSON event.
type Provider struct {
	bin    string
	logger *logging.Logger
}

// New creates a claude provider. An empty bin falls back to "claude"
// resolved from PATH.
func New(bin string, logger *logging.Logger) *Provider {
	if bin == "" {
		bin = "claude"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{bin: bin, logger: logger.Component("provider.claude")}
}

// Name returns the registry key for this provider
func (p *Provider) Name() string {
	return "claude"
}

// Run executes the CLI and forwards normalized events until the stream
// ends, ctx is cancelled, or emit rejects an event.
func (p *Provider) Run(ctx context.Context, req providers.Request, emit providers.EmitFunc) error {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Dir = req.Cwd
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = os.Environ()

	p.logger.Info("Starting claude run",
		zap.String("cwd", req.Cwd),
		zap.Int("prompt_chars", len(req.Prompt)))

	return providers.Stream(cmd, p.bin, installHint, parseLine, emit, p.logger)
}

type streamLine struct {
	Type         string        `json:"type"`
	Subtype      string        `json:"subtype"`
	Message      streamMessage `json:"message"`
	Result       string        `json:"result"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	DurationMS   int64         `json:"duration_ms"`
	IsError      bool          `json:"is_error"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// parseLine maps one stream-json line to a normalized event. Lines with
// unrecognized types parse cleanly but produce no event.
func parseLine(line []byte) (providers.Event, bool, error) {
	var parsed streamLine
	if err := sonic.Unmarshal(line, &parsed); err != nil {
		return providers.Event{}, false, err
	}

	switch parsed.Type {
	case "system":
		return providers.Event{Type: providers.EventSystem, Result: parsed.Subtype}, true, nil

	case "assistant", "user":
		ev := providers.Event{Type: providers.EventType(parsed.Type)}
		for _, b := range parsed.Message.Content {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				ev.Blocks = append(ev.Blocks, providers.Block{Type: "text", Text: b.Text})
			case "tool_use":
				ev.Blocks = append(ev.Blocks, providers.Block{
					Type:      "tool_use",
					ToolName:  b.Name,
					ToolInput: string(b.Input),
				})
			}
		}
		return ev, true, nil

	case "result":
		return providers.Event{
			Type:       providers.EventResult,
			Result:     parsed.Result,
			IsError:    parsed.IsError,
			CostUSD:    parsed.TotalCostUSD,
			DurationMS: parsed.DurationMS,
		}, true, nil
	}

	return providers.Event{}, false, nil
}
