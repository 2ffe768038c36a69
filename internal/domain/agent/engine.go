package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
	"github.com/deckworks/deckd/internal/providers"
	"github.com/deckworks/deckd/internal/shared/id"
)

// costCeilingError stops a run the moment reported cost reaches the
// session ceiling.
type costCeilingError struct {
	cost  float64
	limit float64
}

func (e *costCeilingError) Error() string {
	return fmt.Sprintf("run exceeded cost ceiling: $%.2f >= $%.2f", e.cost, e.limit)
}

// runner pairs a live session with its cancellation handle. It exists
// only while the session is non-terminal and is removed the moment the
// run concludes, before persistence finishes flushing.
type runner struct {
	id       string
	provider string
	maxCost  float64
	start    time.Time
	ctx      context.Context
	cancel   context.CancelFunc

	// resultErr holds a provider-reported failure message; written and
	// read only by the run goroutine.
	resultErr string
}

// CreateRequest describes a new agent run.
type CreateRequest struct {
	Provider   string  `json:"provider"`
	Prompt     string  `json:"prompt"`
	Cwd        string  `json:"cwd"`
	DeckID     string  `json:"deck_id"`
	MaxCostUSD float64 `json:"max_cost_usd"`
}

// Engine admits, runs, and finalizes agent sessions. It owns the runner
// map; the store owns the session records.
type Engine struct {
	mu      sync.Mutex
	runners map[string]*runner
	wg      sync.WaitGroup

	store    *Store
	bcast    *Broadcaster
	registry *providers.Registry
	cfg      Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	notifier Notifier
}

// NewEngine creates an execution engine over the given store, broadcaster,
// and provider registry.
func NewEngine(cfg Config, store *Store, bcast *Broadcaster, registry *providers.Registry, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		runners:  make(map[string]*runner),
		store:    store,
		bcast:    bcast,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger.Component("agent.engine"),
	}
}

// WithMetrics attaches a metrics collector
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithNotifier attaches a run-outcome notifier
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// Create admits a new session and starts its run. The concurrency ceiling
// is checked before anything is created; a rejected caller gets
// ErrCapacity and no session record.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	provider, ok := e.registry.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (available: %v)", ErrInvalid, req.Provider, e.registry.Names())
	}

	sid := id.NewAgentID().String()
	runCtx, cancel := context.WithCancel(context.Background())
	ra := &runner{
		id:       sid,
		provider: provider.Name(),
		start:    time.Now(),
		ctx:      runCtx,
		cancel:   cancel,
	}

	// Reserve the slot first so the ceiling holds even while validation
	// and the initial persist are in flight.
	e.mu.Lock()
	if len(e.runners) >= e.cfg.MaxConcurrent {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w (limit %d)", ErrCapacity, e.cfg.MaxConcurrent)
	}
	e.runners[sid] = ra
	e.mu.Unlock()

	sess, err := e.store.Create(ctx, sid, provider.Name(), req)
	if err != nil {
		e.removeRunner(sid)
		cancel()
		return nil, err
	}
	ra.maxCost = sess.MaxCostUSD

	e.bcast.Activate(sid)
	if e.metrics != nil {
		e.metrics.IncAgents(provider.Name())
	}

	e.wg.Add(1)
	go e.run(ra, provider, sess.Prompt, sess.Cwd)

	return sess, nil
}

// Get returns a copy of the session.
func (e *Engine) Get(id string) (*Session, error) {
	return e.store.Get(id)
}

// List returns copies of all sessions, newest first. A non-empty deckID
// restricts the result to that deck.
func (e *Engine) List(deckID string) []*Session {
	return e.store.List(deckID)
}

// Running reports the number of admitted, unfinished sessions.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runners)
}

// Delete aborts the session if it is live, otherwise removes the finished
// record from memory and storage. Aborting keeps the record so a client
// can still read the final state; deleting it again removes it.
func (e *Engine) Delete(ctx context.Context, sid string) error {
	e.mu.Lock()
	ra, live := e.runners[sid]
	e.mu.Unlock()

	if live {
		e.abort(ctx, ra)
		return nil
	}
	return e.store.Remove(ctx, sid)
}

// Subscribe attaches a stream to the session's events. The returned
// snapshot reflects the session no earlier than the subscription start,
// so the stream sees every later message exactly once after filtering by
// SinceSeq. Finished sessions yield a closed one-shot stream carrying
// only the final status.
func (e *Engine) Subscribe(sid string) (*Session, *Subscription, error) {
	if sub, ok := e.bcast.Subscribe(sid); ok {
		snap, err := e.store.Get(sid)
		if err != nil {
			sub.Close()
			return nil, nil, err
		}
		if n := len(snap.Messages); n > 0 {
			sub.SinceSeq = snap.Messages[n-1].Seq
		}
		return snap, sub, nil
	}

	snap, err := e.store.Get(sid)
	if err != nil {
		return nil, nil, err
	}
	final := Event{
		Kind:         EventStatus,
		Status:       snap.Status,
		Error:        snap.Error,
		TotalCostUSD: snap.TotalCostUSD,
		DurationMS:   snap.DurationMS,
	}
	return snap, closedSubscription(final), nil
}

// Shutdown cancels every live run and waits for their goroutines to
// finalize, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, ra := range e.runners {
		ra.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort finalizes a live session synchronously: transition, persist,
// final status event, topic shutdown, runner removal. The run goroutine
// observes the cancellation and finds nothing left to do.
func (e *Engine) abort(ctx context.Context, ra *runner) {
	snap, err := e.store.SetStatus(ctx, ra.id, StatusAborted, "")
	if err == nil {
		e.publishStatus(snap)
	}
	e.teardown(ra)
	e.logger.Info("Agent session aborted", zap.String("session_id", ra.id))
}

// run drives a single provider execution to a terminal status.
func (e *Engine) run(ra *runner, provider providers.Provider, prompt, cwd string) {
	defer e.wg.Done()
	defer e.teardown(ra)

	snap, err := e.store.SetStatus(context.Background(), ra.id, StatusRunning, "")
	if err != nil {
		// Aborted or deleted between admission and start.
		return
	}
	e.publishStatus(snap)

	runErr := provider.Run(ra.ctx, providers.Request{Prompt: prompt, Cwd: cwd}, e.emitFunc(ra))
	e.finalize(ra, runErr)
}

// publishStatus fans out a status transition to subscribed streams.
func (e *Engine) publishStatus(snap *Session) {
	e.bcast.Publish(snap.ID, Event{
		Kind:         EventStatus,
		Status:       snap.Status,
		Error:        snap.Error,
		TotalCostUSD: snap.TotalCostUSD,
		DurationMS:   snap.DurationMS,
	})
}

// emitFunc normalizes provider events into transcript messages. Text
// blocks flush before the tool call that follows them within one event,
// so a tool message never precedes its triggering text.
func (e *Engine) emitFunc(ra *runner) providers.EmitFunc {
	bg := context.Background()
	return func(ev providers.Event) error {
		if err := ra.ctx.Err(); err != nil {
			return err
		}

		switch ev.Type {
		case providers.EventSystem:
			e.logger.Debug("Provider run initialized",
				zap.String("session_id", ra.id),
				zap.String("detail", ev.Result))

		case providers.EventUser:
			// Tool results echo back as user-role events; the
			// transcript keeps only model-initiated messages.

		case providers.EventAssistant:
			for _, b := range ev.Blocks {
				m := Message{ID: id.NewMessageID().String()}
				switch b.Type {
				case "text":
					m.Role = RoleAssistant
					m.Content = b.Text
				case "tool_use":
					m.Role = RoleTool
					m.Content = b.ToolInput
					m.ToolName = b.ToolName
				default:
					continue
				}
				stored, due, err := e.store.AppendMessage(ra.id, m)
				if err != nil {
					return err
				}
				e.bcast.Publish(ra.id, Event{Kind: EventMessage, Message: &stored})
				if due {
					if err := e.store.Checkpoint(bg, ra.id); err != nil {
						e.logger.Warn("Checkpoint write failed",
							zap.String("session_id", ra.id),
							zap.Error(err))
					}
				}
			}

		case providers.EventResult:
			e.store.RecordUsage(ra.id, ev.CostUSD, ev.DurationMS)
			if ev.IsError && ev.Result != "" {
				ra.resultErr = ev.Result
			}
			if ev.CostUSD > 0 && ev.CostUSD >= ra.maxCost {
				return &costCeilingError{cost: ev.CostUSD, limit: ra.maxCost}
			}
		}
		return nil
	}
}

// finalize classifies the run outcome into a terminal status.
// Cancellation always wins over error classification; a cost-ceiling stop
// is an error, not an abort, because the engine stopped the run itself.
func (e *Engine) finalize(ra *runner, runErr error) {
	var (
		status Status
		errMsg string
	)

	ceiling := &costCeilingError{}
	missing := &providers.MissingBinaryError{}
	switch {
	case ra.ctx.Err() != nil:
		status = StatusAborted
	case errors.As(runErr, &ceiling):
		status = StatusError
		errMsg = ceiling.Error()
	case errors.As(runErr, &missing):
		status = StatusError
		errMsg = missing.Error()
	case runErr != nil:
		status = StatusError
		errMsg = runErr.Error()
	case ra.resultErr != "":
		status = StatusError
		errMsg = ra.resultErr
	default:
		status = StatusCompleted
	}

	snap, err := e.store.SetStatus(context.Background(), ra.id, status, errMsg)
	if err != nil {
		// Already terminal (external abort won) or externally deleted
		// mid-run; never resurrect either way.
		return
	}
	e.publishStatus(snap)

	e.logger.Info("Agent run finished",
		zap.String("session_id", ra.id),
		zap.String("status", string(status)),
		zap.Float64("cost_usd", snap.TotalCostUSD),
		zap.Duration("elapsed", time.Since(ra.start)))
}

// teardown removes the runner exactly once, closing the topic after the
// final status event has been queued. Both the run goroutine and an
// external abort funnel through here; whichever arrives second no-ops.
func (e *Engine) teardown(ra *runner) {
	ra.cancel()
	e.bcast.Deactivate(ra.id)
	if !e.removeRunner(ra.id) {
		return
	}

	snap, err := e.store.Get(ra.id)
	if e.metrics != nil {
		e.metrics.DecAgents()
		if err == nil {
			e.metrics.RecordAgentRun(ra.provider, string(snap.Status), time.Since(ra.start), snap.TotalCostUSD)
		}
	}
	if e.notifier != nil && err == nil {
		e.notifier.NotifyRun(snap)
	}
}

// removeRunner drops the runner if still present. Returns true for the
// caller that actually removed it.
func (e *Engine) removeRunner(sid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runners[sid]; !ok {
		return false
	}
	delete(e.runners, sid)
	return true
}
