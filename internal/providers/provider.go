package providers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// maxLineBytes bounds a single stream line. Tool results can carry whole
// file contents, so this is generous.
const maxLineBytes = 4 * 1024 * 1024

// EventType identifies the normalized shape of a provider event.
type EventType string

const (
	EventSystem    EventType = "system"
	EventAssistant EventType = "assistant"
	EventUser      EventType = "user"
	EventResult    EventType = "result"
)

// Block is one content unit inside an assistant or user event.
type Block struct {
	Type      string // "text" or "tool_use"
	Text      string
	ToolName  string
	ToolInput string
}

// Event is a provider event normalized to a common shape. Assistant events
// carry content blocks; result events carry the final outcome and any
// provider-reported cost and duration.
type Event struct {
	Type       EventType
	Blocks     []Block
	Result     string
	IsError    bool
	CostUSD    float64
	DurationMS int64
}

// Request describes one agent run.
type Request struct {
	Prompt string
	Cwd    string
}

// EmitFunc receives events in stream order. Returning an error stops the
// run; the provider kills its child process and returns that error.
type EmitFunc func(Event) error

// Provider drives an external agent capability for a single run. Run blocks
// until the provider finishes, the context is cancelled, or emit rejects an
// event.
type Provider interface {
	Name() string
	Run(ctx context.Context, req Request, emit EmitFunc) error
}

// MissingBinaryError reports that a provider's CLI is not installed.
type MissingBinaryError struct {
	Binary  string
	Install string
}

func (e *MissingBinaryError) Error() string {
	return fmt.Sprintf("%s executable not found in PATH (install with: %s)", e.Binary, e.Install)
}

// Registry maps provider names to implementations. It is populated at
// construction and read-only afterwards.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseFunc turns one raw output line into a normalized event. The bool
// reports whether the line produced an event at all.
type ParseFunc func(line []byte) (Event, bool, error)

// Stream starts cmd, parses its stdout line by line, and forwards events
// to emit. An emit error kills the child and is returned as-is so the
// caller's stop reason survives. Exit errors carry trailing stderr.
func Stream(cmd *exec.Cmd, bin, install string, parse ParseFunc, emit EmitFunc, logger *logging.Logger) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &MissingBinaryError{Binary: bin, Install: install}
		}
		return fmt.Errorf("failed to start %s: %w", bin, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var stopErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, ok, err := parse(line)
		if err != nil {
			logger.Warn("Skipping malformed provider output line",
				zap.String("provider", bin),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := emit(ev); err != nil {
			stopErr = err
			break
		}
	}

	if stopErr != nil {
		// Stop reading and reap. Without the kill the child would block
		// forever on a full stdout pipe.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return stopErr
	}

	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("failed to read %s output: %w", bin, err)
	}

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s exited: %w: %s", bin, err, lastLine(msg))
		}
		return fmt.Errorf("%s exited: %w", bin, err)
	}
	return nil
}

// lastLine keeps error strings bounded when a CLI dumps a long trace.
func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
