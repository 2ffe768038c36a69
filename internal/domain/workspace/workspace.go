package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

var (
	// ErrOutsideWorkspace marks a path that escapes every registered root.
	ErrOutsideWorkspace = errors.New("path is outside registered workspaces")

	// ErrRootNotFound marks an unknown workspace root id.
	ErrRootNotFound = errors.New("workspace root not found")

	// ErrNotDirectory marks a resolved path that is not a directory.
	ErrNotDirectory = errors.New("path is not a directory")
)

// DefaultIgnore is applied to discovery scans when no patterns are configured.
var DefaultIgnore = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/target/**",
}

// Root is one registered workspace directory.
type Root struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Spec declares a root to register. An empty ID gets a generated one.
type Spec struct {
	ID   string
	Path string
}

// Project is a directory under a root that looks like a checked-out project.
type Project struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	RootID string `json:"root_id"`
}

// Registry holds the registered roots and answers containment queries. Roots
// are fixed at construction; every agent and terminal working directory must
// resolve inside one of them.
type Registry struct {
	roots  []Root
	ignore []string
	logger *logging.Logger
}

// New canonicalizes and registers the given roots. Every root must exist and
// be a directory.
func New(specs []Spec, ignore []string, logger *logging.Logger) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one workspace root is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(ignore) == 0 {
		ignore = DefaultIgnore
	}

	roots := make([]Root, 0, len(specs))
	for _, spec := range specs {
		canonical, err := canonicalize(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("workspace root %q: %w", spec.Path, err)
		}
		rootID := spec.ID
		if rootID == "" {
			rootID = uuid.NewString()
		}
		roots = append(roots, Root{ID: rootID, Path: canonical})
	}

	return &Registry{roots: roots, ignore: ignore, logger: logger.Component("workspace")}, nil
}

// ListRegistered returns the registered roots.
func (r *Registry) ListRegistered() []Root {
	// Return a copy to prevent external modification
	out := make([]Root, len(r.roots))
	copy(out, r.roots)
	return out
}

// DefaultRoot returns the first registered root.
func (r *Registry) DefaultRoot() Root {
	return r.roots[0]
}

// Resolve canonicalizes path and verifies it stays inside a registered root.
// Relative paths are resolved against the default root. The path must exist.
// This is the security boundary for agent and terminal working directories.
func (r *Registry) Resolve(path string) (string, error) {
	if path == "" {
		return r.roots[0].Path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.roots[0].Path, path)
	}

	canonical, err := canonicalize(path)
	if err != nil {
		return "", err
	}

	for _, root := range r.roots {
		if contains(root.Path, canonical) {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
}

// Projects scans one root for project directories (directories carrying a
// .git entry), skipping ignored subtrees. Scan depth is bounded so a huge
// root cannot stall the control plane.
func (r *Registry) Projects(ctx context.Context, rootID string) ([]Project, error) {
	var root *Root
	for i := range r.roots {
		if r.roots[i].ID == rootID {
			root = &r.roots[i]
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
	}

	const maxDepth = 3
	var (
		mu       sync.Mutex
		projects []Project
	)
	conf := fastwalk.Config{Follow: false}

	// fastwalk runs the callback from multiple goroutines.
	err := fastwalk.Walk(&conf, root.Path, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || !d.IsDir() {
			return nil
		}
		if p == root.Path {
			return nil
		}

		rel, relErr := filepath.Rel(root.Path, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range r.ignore {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return filepath.SkipDir
			}
		}
		if strings.Count(rel, "/") >= maxDepth {
			return filepath.SkipDir
		}

		if _, statErr := os.Stat(filepath.Join(p, ".git")); statErr == nil {
			mu.Lock()
			projects = append(projects, Project{
				Name:   filepath.Base(p),
				Path:   p,
				RootID: root.ID,
			})
			mu.Unlock()
			// A project's subdirectories are not scanned for nested projects.
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace scan failed: %w", err)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// canonicalize makes path absolute, resolves symlinks, and requires an
// existing directory. Symlink resolution keeps escape-by-link inside a root
// from passing the containment check.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	return resolved, nil
}

// contains reports whether candidate equals root or sits beneath it.
func contains(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
