package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/resilience"
)

// Event carries one run outcome to the configured targets.
type Event struct {
	SessionID  string  `json:"session_id"`
	Provider   string  `json:"provider"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	Cwd        string  `json:"cwd,omitempty"`
}

// Summary renders the event as a single human-readable line.
func (ev Event) Summary() string {
	elapsed := (time.Duration(ev.DurationMS) * time.Millisecond).Round(100 * time.Millisecond)

	switch ev.Status {
	case "completed":
		return fmt.Sprintf("agent %s (%s) completed in %s, cost $%.2f",
			ev.SessionID, ev.Provider, elapsed, ev.CostUSD)
	case "error":
		msg := fmt.Sprintf("agent %s (%s) failed", ev.SessionID, ev.Provider)
		if ev.Error != "" {
			msg += ": " + ev.Error
		}
		return msg
	case "aborted":
		return fmt.Sprintf("agent %s (%s) aborted", ev.SessionID, ev.Provider)
	default:
		return fmt.Sprintf("agent %s (%s) %s", ev.SessionID, ev.Provider, ev.Status)
	}
}

// Notifier delivers one event to one target.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// target pairs a notifier with the breaker guarding it.
type target struct {
	notifier Notifier
	breaker  *resilience.Breaker
}

// Manager fans run outcomes out to every configured target. Each target
// sits behind its own circuit breaker so one dead endpoint cannot delay
// or disable the others.
type Manager struct {
	targets []target
	timeout time.Duration
	logger  *logging.Logger
}

// NewManager creates a manager over the given notifiers. Nil entries are
// skipped, so callers can pass conditionally-constructed targets.
func NewManager(logger *logging.Logger, notifiers ...Notifier) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Component("notify")

	m := &Manager{timeout: 10 * time.Second, logger: log}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		m.targets = append(m.targets, target{
			notifier: n,
			breaker: resilience.New(n.Name(), resilience.Settings{
				Threshold: 3,
				Cooldown:  time.Minute,
				OnStateChange: func(name string, from, to resilience.State) {
					log.Warn("Notification breaker state changed",
						zap.String("target", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			}),
		})
	}
	return m
}

// Enabled reports whether any target is configured.
func (m *Manager) Enabled() bool {
	return len(m.targets) > 0
}

// Notify delivers the event to every target in order. Synchronous;
// callers that must not block wrap it in a goroutine.
func (m *Manager) Notify(ctx context.Context, ev Event) {
	for _, t := range m.targets {
		err := t.breaker.Do(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			return t.notifier.Send(sendCtx, ev)
		})

		switch {
		case err == nil:
		case errors.Is(err, resilience.ErrCircuitOpen):
			m.logger.Debug("Skipping notification, breaker open",
				zap.String("target", t.notifier.Name()))
		default:
			m.logger.Warn("Notification delivery failed",
				zap.String("target", t.notifier.Name()),
				zap.Error(err))
		}
	}
}

// NotifyRun adapts a finished session to an event and delivers it in the
// background. The run goroutine calling this returns immediately.
func (m *Manager) NotifyRun(s *agent.Session) {
	if !m.Enabled() {
		return
	}
	ev := Event{
		SessionID:  s.ID,
		Provider:   s.Provider,
		Status:     string(s.Status),
		Error:      s.Error,
		CostUSD:    s.TotalCostUSD,
		DurationMS: s.DurationMS,
		Cwd:        s.Cwd,
	}
	go m.Notify(context.Background(), ev)
}
