package providers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckworks/deckd/internal/providers"
	"github.com/deckworks/deckd/internal/providers/claude"
	"github.com/deckworks/deckd/internal/providers/codex"
)

func TestRegistryLookup(t *testing.T) {
	reg := providers.NewRegistry(claude.New("", nil), codex.New("", nil))

	p, ok := reg.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", p.Name())

	p, ok = reg.Get("CODEX")
	require.True(t, ok)
	assert.Equal(t, "codex", p.Name())

	_, ok = reg.Get("gemini")
	assert.False(t, ok)

	assert.Equal(t, []string{"claude", "codex"}, reg.Names())
}

func TestMissingBinaryError(t *testing.T) {
	err := &providers.MissingBinaryError{
		Binary:  "claude",
		Install: "npm install -g @anthropic-ai/claude-code",
	}
	assert.Contains(t, err.Error(), "claude")
	assert.Contains(t, err.Error(), "install with")
}
