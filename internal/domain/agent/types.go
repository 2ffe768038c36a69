package agent

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced to the control plane.
var (
	ErrNotFound = errors.New("agent session not found")
	ErrCapacity = errors.New("capacity exceeded: too many active agent sessions")
	ErrInvalid  = errors.New("invalid agent request")
	ErrTerminal = errors.New("agent session already finished")
)

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAborted
}

// CanTransition reports whether the state machine allows moving to next.
// Transitions only move forward; terminal states accept nothing.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusRunning || next == StatusAborted
	case StatusRunning:
		return next == StatusCompleted || next == StatusError || next == StatusAborted
	}
	return false
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a session transcript. Seq increases by one per
// append and survives compaction, so subscribers can dedup replays.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one agent task, running or finished.
type Session struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Prompt       string    `json:"prompt"`
	Cwd          string    `json:"cwd"`
	DeckID       string    `json:"deck_id,omitempty"`
	Status       Status    `json:"status"`
	Messages     []Message `json:"messages"`
	TotalCostUSD float64   `json:"total_cost_usd,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	Error        string    `json:"error,omitempty"`
	MaxCostUSD   float64   `json:"max_cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// LastSeq feeds Message.Seq assignment. Not exposed; only running
	// sessions append, so losing it across restarts is harmless.
	LastSeq int64 `json:"-"`
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Session) Clone() *Session {
	out := *s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return &out
}

// Fields is the mutable portion of a session record, applied wholesale
// by Persistence.Update. Identity fields are fixed at Save time and
// never change afterwards.
type Fields struct {
	Status       Status
	Error        string
	Messages     []Message
	TotalCostUSD float64
	DurationMS   int64
	UpdatedAt    time.Time
}

// fields extracts the mutable portion of the session.
func (s *Session) fields() Fields {
	return Fields{
		Status:       s.Status,
		Error:        s.Error,
		Messages:     s.Messages,
		TotalCostUSD: s.TotalCostUSD,
		DurationMS:   s.DurationMS,
		UpdatedAt:    s.UpdatedAt,
	}
}

// Persistence stores session records durably. Implementations live in the
// infrastructure layer; the store only needs these operations. Save
// writes a full record; Update rewrites the mutable fields of one that
// already exists.
type Persistence interface {
	Save(ctx context.Context, s *Session) error
	Update(ctx context.Context, id string, f Fields) error
	LoadAll(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}

// WorkspaceResolver validates working directories against registered
// roots. Satisfied by the workspace directory.
type WorkspaceResolver interface {
	Resolve(path string) (string, error)
}

// Notifier receives final run outcomes for delivery outside the process.
// Called from the run goroutine after teardown; implementations must not
// block.
type Notifier interface {
	NotifyRun(s *Session)
}

// EventKind tags broadcast event variants.
type EventKind string

const (
	EventInit    EventKind = "init"
	EventMessage EventKind = "message"
	EventStatus  EventKind = "status"
)

// Event is one item on a session's event stream. Init events carry a full
// session snapshot, message events one new transcript entry, and status
// events the transition plus final cost figures when known.
type Event struct {
	Kind         EventKind `json:"type"`
	Session      *Session  `json:"session,omitempty"`
	Message      *Message  `json:"message,omitempty"`
	Status       Status    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	TotalCostUSD float64   `json:"total_cost_usd,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}

// Config tunes the store and engine.
type Config struct {
	// MaxConcurrent caps sessions in a non-terminal state.
	MaxConcurrent int

	// DefaultMaxCost is the per-session cost ceiling in USD when the
	// request does not set one.
	DefaultMaxCost float64

	// MaxPromptChars bounds prompt length at creation.
	MaxPromptChars int

	// MaxMessages bounds the transcript; beyond it the first message
	// plus the most recent MaxMessages-1 are kept.
	MaxMessages int

	// CheckpointEvery persists the session after this many appended
	// messages, in addition to every status transition.
	CheckpointEvery int

	// TTL is how long finished sessions are retained.
	TTL time.Duration

	// EvictInterval is the sweep cadence for expired sessions.
	EvictInterval time.Duration

	// QueueSize is the per-subscriber event buffer.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.DefaultMaxCost <= 0 {
		c.DefaultMaxCost = 5.0
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 32768
	}
	if c.MaxMessages < 2 {
		c.MaxMessages = 200
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = 5 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	return c
}
