package ws

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/infrastructure/auth"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
)

// AgentGateway streams agent session events to WebSocket clients.
type AgentGateway struct {
	engine   *agent.Engine
	verifier auth.Verifier
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewAgentGateway creates the gateway for agent event streams.
func NewAgentGateway(engine *agent.Engine, verifier auth.Verifier, metrics *monitoring.Metrics, logger *logging.Logger) *AgentGateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AgentGateway{
		engine:   engine,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger.Component("ws"),
	}
}

// HandleAgent upgrades the request and streams one session's events.
// The first frame is an init snapshot of the full session; live events
// follow in publish order, skipping messages the snapshot already
// carried. The stream ends with a normal closure once the session
// reaches a terminal status, or earlier if the client goes away.
func (g *AgentGateway) HandleAgent(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("Agent socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if !g.verifier.Verify(auth.TokenFromRequest(c.Request)) {
		closeWith(conn, CloseUnauthorized, "unauthorized")
		return
	}

	sid := c.Param("id")
	snap, sub, err := g.engine.Subscribe(sid)
	if err != nil {
		closeWith(conn, CloseNotFound, "agent session not found")
		return
	}
	defer sub.Close()

	g.metrics.IncWSConnections("agent")
	defer g.metrics.DecWSConnections("agent")
	g.logger.Info("Agent stream attached",
		zap.String("agent_id", sid),
		zap.String("status", string(snap.Status)))

	// Clients send nothing meaningful, but the close handshake still
	// needs a running read pump.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !g.send(conn, agent.Event{Kind: agent.EventInit, Session: snap}) {
		return
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Topic closed after its final status event.
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if ev.Kind == agent.EventMessage && ev.Message != nil && ev.Message.Seq <= sub.SinceSeq {
				// Already delivered inside the init snapshot.
				continue
			}
			if !g.send(conn, ev) {
				return
			}
		case <-gone:
			return
		}
	}
}

// send marshals one event onto the socket. A failed write abandons the
// stream; the deferred Close releases the subscription.
func (g *AgentGateway) send(conn *websocket.Conn, ev agent.Event) bool {
	buf, err := sonic.Marshal(ev)
	if err != nil {
		g.logger.Error("Agent event encode failed", zap.Error(err))
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return false
	}
	g.metrics.RecordWSMessage("agent", "out")
	return true
}
