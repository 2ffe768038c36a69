// Package id provides centralized ID generation for the daemon.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: Enables efficient time-based ordering
//   - Prefixed types: Type-specific prefixes for debugging (term_*, agent_*, msg_*)
//   - Type safety: Separate types prevent ID misuse
//   - Performance: ~2μs per ULID under a single entropy lock
//
// Design Principles:
//   - ULIDs for anything persisted or sorted: sessions, messages, traces
//   - UUIDs for ephemeral identifiers: socket connections
//   - Debuggable: Prefixes make logs readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// TerminalID identifies a terminal session
type TerminalID string

// AgentID identifies an agent session
type AgentID string

// MessageID identifies a message within an agent session
type MessageID string

// ConnID identifies a single client socket connection
type ConnID string

// RequestID identifies one traced request
type RequestID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	TerminalPrefix = "term"
	AgentPrefix    = "agent"
	MessagePrefix  = "msg"
	ConnPrefix     = "conn"
	RequestPrefix  = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewTerminalID generates a new terminal session ID
func NewTerminalID() TerminalID {
	return TerminalID(Default().GenerateWithPrefix(TerminalPrefix))
}

// NewAgentID generates a new agent session ID
func NewAgentID() AgentID {
	return AgentID(Default().GenerateWithPrefix(AgentPrefix))
}

// NewMessageID generates a new message ID
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewConnID generates a new connection ID. Connections are ephemeral and
// never sorted, so they get random UUIDs rather than ULIDs.
func NewConnID() ConnID {
	return ConnID(fmt.Sprintf("%s_%s", ConnPrefix, uuid.NewString()))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

// String methods for ID types
func (id TerminalID) String() string { return string(id) }
func (id AgentID) String() string    { return string(id) }
func (id MessageID) String() string  { return string(id) }
func (id ConnID) String() string     { return string(id) }
func (id RequestID) String() string  { return string(id) }

// Valid reports whether id carries the given prefix followed by a parseable ULID
func Valid(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// Parse parses a prefixed ID string into its ULID part
func Parse(id string) (ulid.ULID, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}
