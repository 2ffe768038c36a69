package ws

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/domain/guard"
	"github.com/deckworks/deckd/internal/domain/terminal"
	"github.com/deckworks/deckd/internal/infrastructure/auth"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
	"github.com/deckworks/deckd/internal/shared/id"
)

// resizePrefix marks a control payload: the byte 0x01 followed by ASCII
// "cols,rows". Ordinary terminal input never starts with it.
const resizePrefix = 0x01

// Config tunes the per-socket message guards.
type Config struct {
	// MaxMessageBytes is the inbound payload ceiling. Larger payloads
	// draw a warning frame and are discarded.
	MaxMessageBytes int

	// RateWindow and RateMax bound inbound message rate per socket.
	RateWindow time.Duration
	RateMax    int
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Second
	}
	if c.RateMax <= 0 {
		c.RateMax = 100
	}
	return c
}

// TerminalGateway bridges WebSocket clients to PTY sessions.
type TerminalGateway struct {
	terminals *terminal.Registry
	guard     *guard.Guard
	verifier  auth.Verifier
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	cfg       Config
}

// NewTerminalGateway creates the gateway for terminal sockets.
func NewTerminalGateway(terminals *terminal.Registry, g *guard.Guard, verifier auth.Verifier, metrics *monitoring.Metrics, logger *logging.Logger, cfg Config) *TerminalGateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TerminalGateway{
		terminals: terminals,
		guard:     g,
		verifier:  verifier,
		metrics:   metrics,
		logger:    logger.Component("ws"),
		cfg:       cfg.withDefaults(),
	}
}

// HandleTerminal upgrades the request and attaches the socket to a
// terminal. The accept pipeline runs in fixed order: connection guard,
// authentication, session lookup. Each failure closes the fresh socket
// with its own code.
func (g *TerminalGateway) HandleTerminal(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		g.logger.Warn("Terminal socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	addr := c.ClientIP()
	if !g.guard.TryAcquire(addr) {
		g.metrics.RecordGuardRejection("connection_limit")
		closeWith(conn, CloseTooManyConns, "too many connections")
		return
	}
	defer g.guard.Release(addr)

	if !g.verifier.Verify(auth.TokenFromRequest(c.Request)) {
		closeWith(conn, CloseUnauthorized, "unauthorized")
		return
	}

	sid := c.Param("id")
	connID := id.NewConnID().String()
	replay, sink, err := g.terminals.Attach(sid, connID)
	if err != nil {
		closeWith(conn, CloseNotFound, "terminal not found")
		return
	}

	g.logger.Info("Terminal socket attached",
		zap.String("terminal_id", sid),
		zap.String("conn_id", connID),
		zap.String("addr", addr))
	g.bridge(conn, sid, connID, replay, sink)
	g.logger.Info("Terminal socket closed",
		zap.String("terminal_id", sid),
		zap.String("conn_id", connID))
}

// bridge pumps both directions until either side goes away, then tears
// down in order: detach (closes the sink, stopping the writer), forget
// the socket's rate history, wait for the writer to drain out.
func (g *TerminalGateway) bridge(conn *websocket.Conn, sid, connID string, replay []byte, sink <-chan []byte) {
	g.metrics.IncWSConnections("terminal")
	defer g.metrics.DecWSConnections("terminal")

	// Replay goes out before the writer starts so buffered history
	// precedes live output on this socket.
	if len(replay) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, replay); err == nil {
			g.metrics.RecordWSMessage("terminal", "out")
		}
	}

	notices := make(chan []byte, noticeBacklog)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(conn, sink, notices)
	}()

	g.readLoop(conn, sid, connID, notices)

	g.terminals.Detach(sid, connID)
	g.guard.Forget(connID)
	<-writerDone
}

// writeLoop owns every data write after the replay. gorilla permits one
// concurrent writer per connection, so PTY output and warning frames
// both funnel through here. A write failure closes the connection,
// which unblocks the read loop; nothing else is affected.
func (g *TerminalGateway) writeLoop(conn *websocket.Conn, sink <-chan []byte, notices <-chan []byte) {
	for {
		select {
		case chunk, ok := <-sink:
			if !ok {
				// Detached or disposed underneath us.
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}
			if !g.write(conn, websocket.BinaryMessage, chunk) {
				return
			}
		case notice := <-notices:
			if !g.write(conn, websocket.TextMessage, notice) {
				return
			}
		}
	}
}

func (g *TerminalGateway) write(conn *websocket.Conn, messageType int, data []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(messageType, data); err != nil {
		_ = conn.Close()
		return false
	}
	g.metrics.RecordWSMessage("terminal", "out")
	return true
}

// readLoop applies the per-message guards, then routes each payload:
// resize control frames to Resize, everything else raw to the PTY.
// Oversize and rate rejections answer with an inline warning instead of
// closing, and they never refresh the idle clock. No read limit is set;
// oversize frames draw the warning rather than the 1009 close the limit
// would force.
func (g *TerminalGateway) readLoop(conn *websocket.Conn, sid, connID string, notices chan<- []byte) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.metrics.RecordWSMessage("terminal", "in")

		if len(data) > g.cfg.MaxMessageBytes {
			g.metrics.RecordGuardRejection("oversize")
			g.notify(notices, fmt.Sprintf("message exceeds %d bytes", g.cfg.MaxMessageBytes))
			continue
		}
		if !g.guard.CheckMessageRate(connID, g.cfg.RateWindow, g.cfg.RateMax) {
			g.metrics.RecordGuardRejection("message_rate")
			g.notify(notices, "message rate exceeded")
			continue
		}

		if cols, rows, ok := parseResize(data); ok {
			if err := g.terminals.Resize(sid, cols, rows); err != nil {
				g.logger.Warn("Socket resize failed",
					zap.String("terminal_id", sid),
					zap.Error(err))
			}
			continue
		}
		if err := g.terminals.Write(sid, data); err != nil {
			g.logger.Warn("Socket input write failed",
				zap.String("terminal_id", sid),
				zap.Error(err))
		}
	}
}

// notify queues an inline warning frame, dropping it when the writer is
// backed up.
func (g *TerminalGateway) notify(notices chan<- []byte, message string) {
	frame, err := sonic.Marshal(gin.H{"type": "warning", "message": message})
	if err != nil {
		return
	}
	select {
	case notices <- frame:
	default:
	}
}

// parseResize decodes a resize control payload. Values that fail to
// parse come back as 1, so a malformed frame shrinks the terminal
// instead of killing the socket; the registry clamps the upper bound.
func parseResize(data []byte) (cols, rows int, ok bool) {
	if len(data) == 0 || data[0] != resizePrefix {
		return 0, 0, false
	}
	cols, rows = 1, 1
	parts := strings.SplitN(string(data[1:]), ",", 2)
	if len(parts) != 2 {
		return cols, rows, true
	}
	if v, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil && v > 0 {
		cols = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && v > 0 {
		rows = v
	}
	return cols, rows, true
}
