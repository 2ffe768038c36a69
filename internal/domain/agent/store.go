package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
)

// Store owns the in-memory session map and its durable mirror. Lifecycle
// mutations go through here; the engine is the only writer for a running
// session's transcript and status.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg        Config
	persist    Persistence
	workspaces WorkspaceResolver
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time
}

// NewStore creates a session store backed by the given persistence
// adapter.
func NewStore(cfg Config, persist Persistence, workspaces WorkspaceResolver, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		sessions:   make(map[string]*Session),
		cfg:        cfg.withDefaults(),
		persist:    persist,
		workspaces: workspaces,
		logger:     logger.Component("agent.store"),
		now:        time.Now,
	}
}

// WithMetrics attaches a metrics collector
func (s *Store) WithMetrics(m *monitoring.Metrics) *Store {
	s.metrics = m
	return s
}

// Create validates the request and registers a new idle session. The
// working directory must resolve inside a registered workspace root; this
// is the sandbox boundary, not a convenience check.
func (s *Store) Create(ctx context.Context, sid, provider string, req CreateRequest) (*Session, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", ErrInvalid)
	}
	if len(req.Prompt) > s.cfg.MaxPromptChars {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalid, s.cfg.MaxPromptChars)
	}
	resolved, err := s.workspaces.Resolve(req.Cwd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	maxCost := req.MaxCostUSD
	if maxCost <= 0 {
		maxCost = s.cfg.DefaultMaxCost
	}

	now := s.now()
	sess := &Session{
		ID:         sid,
		Provider:   provider,
		Prompt:     req.Prompt,
		Cwd:        resolved,
		DeckID:     req.DeckID,
		Status:     StatusIdle,
		MaxCostUSD: maxCost,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.sessions[sid] = sess
	snap := sess.Clone()
	s.mu.Unlock()

	if err := s.save(ctx, snap); err != nil {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to persist agent session: %w", err)
	}

	s.logger.Info("Agent session created",
		zap.String("session_id", sid),
		zap.String("provider", provider),
		zap.String("cwd", resolved))
	return snap, nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// List returns copies of all sessions, newest first, optionally
// restricted to one deck.
func (s *Store) List(deckID string) []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if deckID != "" && sess.DeckID != deckID {
			continue
		}
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Count reports the number of sessions held in memory.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SetStatus advances the session's state machine and persists the
// transition. Rejects backward or terminal-to-anything moves.
func (s *Store) SetStatus(ctx context.Context, id string, next Status, errMsg string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sess.Status.CanTransition(next) {
		cur := sess.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot move %s from %s to %s", ErrTerminal, id, cur, next)
	}
	sess.Status = next
	if errMsg != "" {
		sess.Error = errMsg
	}
	sess.UpdatedAt = s.now()
	snap := sess.Clone()
	s.mu.Unlock()

	if err := s.update(ctx, snap); err != nil {
		s.logger.Error("Failed to persist status transition",
			zap.String("session_id", id),
			zap.String("status", string(next)),
			zap.Error(err))
	}
	return snap, nil
}

// AppendMessage adds one transcript entry, compacting once the bound is
// exceeded so the sequence stays [first] + most recent N-1. The returned
// flag tells the caller a checkpoint write is due.
func (s *Store) AppendMessage(id string, m Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sess.LastSeq++
	m.Seq = sess.LastSeq
	m.Timestamp = s.now()
	sess.Messages = append(sess.Messages, m)

	if len(sess.Messages) > s.cfg.MaxMessages {
		keep := s.cfg.MaxMessages - 1
		compacted := make([]Message, 0, s.cfg.MaxMessages)
		compacted = append(compacted, sess.Messages[0])
		compacted = append(compacted, sess.Messages[len(sess.Messages)-keep:]...)
		sess.Messages = compacted
	}
	sess.UpdatedAt = m.Timestamp

	due := sess.LastSeq%int64(s.cfg.CheckpointEvery) == 0
	return m, due, nil
}

// RecordUsage stores provider-reported cost and duration figures.
func (s *Store) RecordUsage(id string, costUSD float64, durationMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if costUSD > 0 {
		sess.TotalCostUSD = costUSD
	}
	if durationMS > 0 {
		sess.DurationMS = durationMS
	}
}

// Checkpoint persists the session's current state mid-run.
func (s *Store) Checkpoint(ctx context.Context, id string) error {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	var snap *Session
	if ok {
		snap = sess.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.update(ctx, snap)
}

// Remove deletes the session from memory and storage.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.persist.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete persisted session",
			zap.String("session_id", id),
			zap.Error(err))
	}
	s.logger.Info("Agent session removed", zap.String("session_id", id))
	return nil
}

// Reconcile loads persisted sessions at startup. Anything stored as live
// is forced to aborted before entering memory; a crash must never leave a
// session appearing to run. Returns how many were reconciled.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	stored, err := s.persist.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load persisted sessions: %w", err)
	}

	reconciled := 0
	for _, sess := range stored {
		if n := len(sess.Messages); n > 0 {
			sess.LastSeq = sess.Messages[n-1].Seq
		}
		if !sess.Status.Terminal() {
			sess.Status = StatusAborted
			if sess.Error == "" {
				sess.Error = "interrupted by restart"
			}
			sess.UpdatedAt = s.now()
			if err := s.update(ctx, sess); err != nil {
				return reconciled, fmt.Errorf("failed to persist reconciled session %s: %w", sess.ID, err)
			}
			reconciled++
		}
		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()
	}

	s.logger.Info("Agent sessions reconciled",
		zap.Int("loaded", len(stored)),
		zap.Int("aborted", reconciled))
	return reconciled, nil
}

// SweepExpired evicts finished sessions older than the TTL from memory
// and storage. Returns how many were evicted.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var victims []string
	for id, sess := range s.sessions {
		if sess.Status.Terminal() && now.Sub(sess.UpdatedAt) > s.cfg.TTL {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, id := range victims {
		if err := s.persist.Delete(ctx, id); err != nil {
			s.logger.Error("Failed to delete expired session",
				zap.String("session_id", id),
				zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordEviction("agent_ttl")
		}
		s.logger.Info("Expired agent session evicted", zap.String("session_id", id))
	}
	return len(victims)
}

// RunSweeper evicts expired sessions on a fixed interval until ctx is
// cancelled.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.SweepExpired(ctx, now)
		}
	}
}

// save persists a full snapshot and records the outcome.
func (s *Store) save(ctx context.Context, snap *Session) error {
	timer := monitoring.NewStoreTimer(s.metrics, "save")
	err := s.persist.Save(ctx, snap)
	if err != nil {
		timer.Stop("error")
		return err
	}
	timer.Stop("success")
	return nil
}

// update persists the mutable fields of an existing record.
func (s *Store) update(ctx context.Context, snap *Session) error {
	timer := monitoring.NewStoreTimer(s.metrics, "update")
	err := s.persist.Update(ctx, snap.ID, snap.fields())
	if err != nil {
		timer.Stop("error")
		return err
	}
	timer.Stop("success")
	return nil
}
