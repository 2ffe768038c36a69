package workspace

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, roots ...string) *Registry {
	t.Helper()
	specs := make([]Spec, 0, len(roots))
	for i, root := range roots {
		specs = append(specs, Spec{ID: string(rune('a' + i)), Path: root})
	}
	reg, err := New(specs, nil, nil)
	require.NoError(t, err)
	return reg
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New([]Spec{{Path: filepath.Join(t.TempDir(), "missing")}}, nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New([]Spec{{Path: file}}, nil, nil)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestNewGeneratesRootIDs(t *testing.T) {
	reg, err := New([]Spec{{Path: t.TempDir()}}, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.ListRegistered()[0].ID)
}

func TestResolveInsideRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "proj")
	require.NoError(t, os.Mkdir(sub, 0o755))

	reg := newTestRegistry(t, root)

	got, err := reg.Resolve(sub)
	require.NoError(t, err)
	assert.Equal(t, mustEval(t, sub), got)
}

func TestResolveRootItself(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)

	got, err := reg.Resolve(root)
	require.NoError(t, err)
	assert.Equal(t, mustEval(t, root), got)
}

func TestResolveEmptyFallsBackToDefaultRoot(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)

	got, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, reg.DefaultRoot().Path, got)
}

func TestResolveRelativeAgainstDefaultRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "proj"), 0o755))
	reg := newTestRegistry(t, root)

	got, err := reg.Resolve("proj")
	require.NoError(t, err)
	assert.Equal(t, mustEval(t, filepath.Join(root, "proj")), got)
}

func TestResolveOutsideRootRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	reg := newTestRegistry(t, root)

	_, err := reg.Resolve(outside)
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestResolveDotDotEscapeRejected(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)

	_, err := reg.Resolve(filepath.Join(root, "..", filepath.Base(root)+"-sneaky"))
	assert.Error(t, err)
}

func TestResolveSymlinkEscapeRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))

	reg := newTestRegistry(t, root)

	_, err := reg.Resolve(link)
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestResolveSiblingPrefixRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "work")
	sibling := filepath.Join(base, "workspace-evil")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.Mkdir(sibling, 0o755))

	reg := newTestRegistry(t, root)

	// A sibling sharing a name prefix must not pass the containment check.
	_, err := reg.Resolve(sibling)
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestListRegisteredReturnsCopy(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)

	roots := reg.ListRegistered()
	roots[0].Path = "/mutated"
	assert.NotEqual(t, "/mutated", reg.ListRegistered()[0].Path)
}

func TestProjectsDiscovery(t *testing.T) {
	root := t.TempDir()
	mkProject := func(parts ...string) {
		dir := filepath.Join(append([]string{root}, parts...)...)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	}
	mkProject("alpha")
	mkProject("nested", "beta")
	// Ignored subtree must not be reported.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep", ".git"), 0o755))
	// Plain directory without .git is not a project.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))

	reg := newTestRegistry(t, root)
	rootID := reg.ListRegistered()[0].ID

	projects, err := reg.Projects(context.Background(), rootID)
	require.NoError(t, err)

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
		assert.Equal(t, rootID, p.RootID)
	}
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestProjectsUnknownRoot(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	_, err := reg.Projects(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func mustEval(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}
