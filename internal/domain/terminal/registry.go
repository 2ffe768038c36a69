package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/domain/workspace"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
	"github.com/deckworks/deckd/internal/shared/id"
)

var (
	// ErrNotFound marks an unknown terminal session id.
	ErrNotFound = errors.New("terminal session not found")

	// ErrDisposed marks an operation against a disposed session.
	ErrDisposed = errors.New("terminal session disposed")

	// ErrInvalidCwd marks a working directory that fails workspace
	// resolution.
	ErrInvalidCwd = errors.New("invalid working directory")
)

// Config tunes the registry.
type Config struct {
	Shell         string
	BufferSize    int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	SinkBuffer    int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1 << 20
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.SinkBuffer <= 0 {
		c.SinkBuffer = 256
	}
	return c
}

// CreateOptions describe a terminal to spawn.
type CreateOptions struct {
	DeckID string
	Title  string
	Cwd    string
	Shell  string
	Cols   int
	Rows   int
	Env    map[string]string
}

// Registry owns every live PTY session. All lifecycle transitions go through
// it; the gateway only attaches, writes, and detaches.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	workspaces *workspace.Registry
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	cfg        Config
	spawn      SpawnFunc
}

// NewRegistry creates a registry. Working directories are validated against
// the workspace registry before anything is spawned.
func NewRegistry(cfg Config, workspaces *workspace.Registry, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		workspaces: workspaces,
		logger:     logger.Component("terminal"),
		cfg:        cfg.withDefaults(),
		spawn:      defaultSpawn,
	}
}

// WithMetrics attaches metrics collection.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// WithSpawn overrides PTY spawning. Tests substitute a pipe-backed fake.
func (r *Registry) WithSpawn(spawn SpawnFunc) *Registry {
	r.spawn = spawn
	return r
}

// Create spawns a new shell on a PTY and registers the session.
func (r *Registry) Create(opts CreateOptions) (Info, error) {
	shell := opts.Shell
	if shell == "" {
		shell = r.cfg.Shell
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	cwd, err := r.workspaces.Resolve(opts.Cwd)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidCwd, err)
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	cols, rows = clampDim(cols), clampDim(rows)

	title := opts.Title
	if title == "" {
		title = filepath.Base(shell)
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	handle, err := r.spawn(cmd, cols, rows)
	if err != nil {
		return Info{}, fmt.Errorf("failed to start PTY: %w", err)
	}

	session := &Session{
		ID:         id.NewTerminalID().String(),
		Title:      title,
		DeckID:     opts.DeckID,
		Shell:      shell,
		Cwd:        cwd,
		CreatedAt:  time.Now(),
		cmd:        cmd,
		pty:        handle,
		buf:        NewBuffer(r.cfg.BufferSize),
		cols:       cols,
		rows:       rows,
		lastActive: time.Now(),
		sinks:      make(map[string]chan []byte),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	go r.pump(session)
	go r.reap(session)

	if r.metrics != nil {
		r.metrics.IncTerminals()
	}
	r.logger.Info("Terminal created",
		zap.String("session_id", session.ID),
		zap.String("shell", shell),
		zap.String("cwd", cwd))

	return session.info(), nil
}

// pump continuously reads PTY output, buffers it, and fans it out.
func (r *Registry) pump(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if dropped := s.deliver(chunk); dropped > 0 && r.metrics != nil {
				r.metrics.RecordTerminalDrop(dropped)
			}
			if r.metrics != nil {
				r.metrics.RecordTerminalBytes("out", n)
			}
		}
		if err != nil {
			// EOF or closed PTY ends the pump; the reaper handles disposal.
			return
		}
	}
}

// reap waits for the process to exit and disposes the session.
func (r *Registry) reap(s *Session) {
	if s.cmd.Process == nil {
		// Spawn did not start a real process (substituted in tests).
		return
	}
	s.cmd.Wait()
	if r.dispose(s.ID, "exit") {
		r.logger.Info("Terminal process exited", zap.String("session_id", s.ID))
	}
}

// Get returns session info.
func (r *Registry) Get(sessionID string) (Info, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns info for every live session.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Attach registers a client sink and returns the replay snapshot together
// with the sink channel. The replay goes to this socket only; subsequent
// output arrives through the channel, which is closed on detach or disposal.
func (r *Registry) Attach(sessionID, connID string) ([]byte, <-chan []byte, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, nil, ErrDisposed
	}

	sink := make(chan []byte, r.cfg.SinkBuffer)
	s.sinks[connID] = sink
	s.lastActive = time.Now()
	replay := s.buf.Snapshot()

	if r.metrics != nil {
		r.metrics.IncTerminalSockets()
	}
	return replay, sink, nil
}

// Detach removes a client sink and closes its channel. Unknown ids are
// ignored so disconnect paths can call it unconditionally.
func (r *Registry) Detach(sessionID, connID string) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	sink, ok := s.sinks[connID]
	if ok {
		delete(s.sinks, connID)
		close(sink)
	}
	s.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.DecTerminalSockets()
	}
}

// Write sends input bytes to the PTY.
func (r *Registry) Write(sessionID string, data []byte) error {
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}

	if _, err := s.pty.Write(data); err != nil {
		return fmt.Errorf("pty write failed: %w", err)
	}
	s.touch()
	if r.metrics != nil {
		r.metrics.RecordTerminalBytes("in", len(data))
	}
	return nil
}

// Resize changes the PTY dimensions, clamped to [1, MaxDim].
func (r *Registry) Resize(sessionID string, cols, rows int) error {
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	cols, rows = clampDim(cols), clampDim(rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.cols, s.rows = cols, rows
	s.lastActive = time.Now()

	if err := s.pty.Resize(cols, rows); err != nil {
		return fmt.Errorf("pty resize failed: %w", err)
	}
	return nil
}

// Buffer returns a snapshot of the session's buffered output.
func (r *Registry) Buffer(sessionID string) ([]byte, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.buf.Snapshot(), nil
}

// Dispose kills the process, closes all sinks, and removes the session.
// Disposing an unknown or already-disposed session is a no-op.
func (r *Registry) Dispose(sessionID string) bool {
	return r.dispose(sessionID, "request")
}

func (r *Registry) dispose(sessionID, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.dispose()

	if r.metrics != nil {
		r.metrics.DecTerminals(reason)
	}
	r.logger.Info("Terminal disposed",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	return true
}

// dispose releases the session's resources exactly once.
func (s *Session) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	for connID, sink := range s.sinks {
		delete(s.sinks, connID)
		close(sink)
	}
	s.mu.Unlock()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.pty.Close()
}

// SweepIdle disposes sessions with no attached sockets that have been
// inactive beyond the idle timeout. Returns the number disposed.
func (r *Registry) SweepIdle() int {
	now := time.Now()

	r.mu.Lock()
	var victims []*Session
	for sessionID, s := range r.sessions {
		s.mu.RLock()
		idle := len(s.sinks) == 0 && now.Sub(s.lastActive) > r.cfg.IdleTimeout
		s.mu.RUnlock()
		if idle {
			victims = append(victims, s)
			delete(r.sessions, sessionID)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.dispose()
		if r.metrics != nil {
			r.metrics.DecTerminals("idle")
			r.metrics.RecordEviction("terminal_idle")
		}
		r.logger.Info("Terminal swept", zap.String("session_id", s.ID))
	}
	return len(victims)
}

// RunSweeper periodically runs the idle sweep until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepIdle()
		}
	}
}

// Shutdown disposes every session. Called on daemon shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	victims := make([]*Session, 0, len(r.sessions))
	for sessionID, s := range r.sessions {
		victims = append(victims, s)
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.dispose()
		if r.metrics != nil {
			r.metrics.DecTerminals("shutdown")
		}
	}
}

func (r *Registry) lookup(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, nil
}
