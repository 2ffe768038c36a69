// Package workspace registers the directory roots the daemon is allowed to
// operate in and validates every working directory against them.
//
// Components:
//   - Registry: canonicalized roots, containment resolution, project discovery
//
// Resolve is a security boundary: agent and terminal working directories that
// escape every registered root (including via symlinks) are rejected before
// any process is spawned.
package workspace
