package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/domain/guard"
	"github.com/deckworks/deckd/internal/domain/terminal"
	"github.com/deckworks/deckd/internal/domain/workspace"
	"github.com/deckworks/deckd/internal/infrastructure/auth"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
	"github.com/deckworks/deckd/internal/providers"
)

// fakePTY stands in for a real PTY. Reads deliver chunks pushed through
// out; writes and resizes are captured for assertions.
type fakePTY struct {
	mu      sync.Mutex
	in      bytes.Buffer
	out     chan []byte
	resized [][2]int
	once    sync.Once
}

func newFakePTY() *fakePTY {
	return &fakePTY{out: make(chan []byte, 16)}
}

func (p *fakePTY) Read(b []byte) (int, error) {
	chunk, ok := <-p.out
	if !ok {
		return 0, io.EOF
	}
	return copy(b, chunk), nil
}

func (p *fakePTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Write(b)
}

func (p *fakePTY) Close() error {
	p.once.Do(func() { close(p.out) })
	return nil
}

func (p *fakePTY) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resized = append(p.resized, [2]int{cols, rows})
	return nil
}

func (p *fakePTY) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.String()
}

func (p *fakePTY) resizes() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.resized...)
}

// scriptedProvider replays events pushed by the test, standing in for a
// streaming agent CLI. Closing the channel ends the run successfully.
type scriptedProvider struct {
	events chan providers.Event
}

func (p *scriptedProvider) Name() string { return "claude" }

func (p *scriptedProvider) Run(ctx context.Context, _ providers.Request, emit providers.EmitFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.events:
			if !ok {
				return nil
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}

type nopPersist struct{}

func (nopPersist) Save(context.Context, *agent.Session) error          { return nil }
func (nopPersist) Update(context.Context, string, agent.Fields) error  { return nil }
func (nopPersist) LoadAll(context.Context) ([]*agent.Session, error)   { return nil, nil }
func (nopPersist) Delete(context.Context, string) error                { return nil }

type envConfig struct {
	maxConns int
	token    string
	gw       Config
}

type env struct {
	srv       *httptest.Server
	terminals *terminal.Registry
	engine    *agent.Engine
	events    chan providers.Event
	ptys      chan *fakePTY
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.maxConns <= 0 {
		cfg.maxConns = 8
	}

	ws, err := workspace.New([]workspace.Spec{{ID: "root_main", Path: t.TempDir()}}, nil, nil)
	require.NoError(t, err)

	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())

	ptys := make(chan *fakePTY, 8)
	terminals := terminal.NewRegistry(terminal.Config{}, ws, nil).
		WithMetrics(metrics).
		WithSpawn(func(_ *exec.Cmd, _, _ int) (terminal.Handle, error) {
			p := newFakePTY()
			ptys <- p
			return p, nil
		})
	t.Cleanup(terminals.Shutdown)

	events := make(chan providers.Event, 8)
	agentCfg := agent.Config{MaxConcurrent: 2}
	store := agent.NewStore(agentCfg, nopPersist{}, ws, nil)
	engine := agent.NewEngine(agentCfg, store, agent.NewBroadcaster(0, nil), providers.NewRegistry(&scriptedProvider{events: events}), nil).
		WithMetrics(metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	verifier, err := auth.FromToken(cfg.token)
	require.NoError(t, err)

	tg := NewTerminalGateway(terminals, guard.New(cfg.maxConns), verifier, metrics, nil, cfg.gw)
	ag := NewAgentGateway(engine, verifier, metrics, nil)

	router := gin.New()
	router.GET("/ws/terminals/:id", tg.HandleTerminal)
	router.GET("/ws/agents/:id", ag.HandleAgent)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, terminals: terminals, engine: engine, events: events, ptys: ptys}
}

func (e *env) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *env) createTerminal(t *testing.T) (terminal.Info, *fakePTY) {
	t.Helper()
	info, err := e.terminals.Create(terminal.CreateOptions{})
	require.NoError(t, err)
	return info, <-e.ptys
}

// createAgent starts a session and waits for the run to reach running,
// so a subsequent subscribe sees a stable snapshot instead of racing
// the idle-to-running transition.
func (e *env) createAgent(t *testing.T, prompt string) *agent.Session {
	t.Helper()
	sess, err := e.engine.Create(context.Background(), agent.CreateRequest{Provider: "claude", Prompt: prompt})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := e.engine.Get(sess.ID)
		return err == nil && got.Status == agent.StatusRunning
	}, time.Second, 10*time.Millisecond)
	return sess
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func readEvent(t *testing.T, conn *websocket.Conn) agent.Event {
	t.Helper()
	_, data := readFrame(t, conn)
	var ev agent.Event
	require.NoError(t, json.Unmarshal(data, &ev), string(data))
	return ev
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

func TestTerminalSocketBridge(t *testing.T) {
	e := newEnv(t, envConfig{})
	info, pty := e.createTerminal(t)

	pty.out <- []byte("boot log\n")
	require.Eventually(t, func() bool {
		buf, err := e.terminals.Buffer(info.ID)
		return err == nil && bytes.Contains(buf, []byte("boot log"))
	}, time.Second, 10*time.Millisecond, "pump stores output before attach")

	conn := e.dial(t, "/ws/terminals/"+info.ID)

	// Buffered history arrives as the first frame.
	_, data := readFrame(t, conn)
	assert.Contains(t, string(data), "boot log")

	// Live output follows the replay.
	pty.out <- []byte("$ ")
	_, data = readFrame(t, conn)
	assert.Equal(t, "$ ", string(data))

	// Raw frames reach the PTY as input.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))
	require.Eventually(t, func() bool {
		return pty.written() == "ls\n"
	}, time.Second, 10*time.Millisecond)

	// Prefixed frames resize instead of writing.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("\x01220,64")))
	require.Eventually(t, func() bool {
		rs := pty.resizes()
		return len(rs) == 1 && rs[0] == [2]int{220, 64}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ls\n", pty.written(), "control frames never reach the PTY as input")
}

func TestTerminalSocketResizeClamps(t *testing.T) {
	e := newEnv(t, envConfig{})
	info, pty := e.createTerminal(t)
	conn := e.dial(t, "/ws/terminals/"+info.ID)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("\x019999,0")))
	require.Eventually(t, func() bool {
		rs := pty.resizes()
		return len(rs) == 1 && rs[0] == [2]int{terminal.MaxDim, 1}
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("\x01garbage")))
	require.Eventually(t, func() bool {
		rs := pty.resizes()
		return len(rs) == 2 && rs[1] == [2]int{1, 1}
	}, time.Second, 10*time.Millisecond, "malformed values clamp to 1")
}

func TestTerminalSocketOversizeWarning(t *testing.T) {
	e := newEnv(t, envConfig{gw: Config{MaxMessageBytes: 16}})
	info, pty := e.createTerminal(t)
	conn := e.dial(t, "/ws/terminals/"+info.ID)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte("x"), 17)))

	mt, data := readFrame(t, conn)
	assert.Equal(t, websocket.TextMessage, mt)
	var warn map[string]string
	require.NoError(t, json.Unmarshal(data, &warn))
	assert.Equal(t, "warning", warn["type"])
	assert.Contains(t, warn["message"], "16 bytes")

	// The socket survives the rejection.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ok")))
	require.Eventually(t, func() bool {
		return pty.written() == "ok"
	}, time.Second, 10*time.Millisecond, "oversize payload was discarded, later input flows")
}

func TestTerminalSocketRateWarning(t *testing.T) {
	e := newEnv(t, envConfig{gw: Config{RateWindow: time.Minute, RateMax: 2}})
	info, pty := e.createTerminal(t)
	conn := e.dial(t, "/ws/terminals/"+info.ID)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("a")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("b")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("c")))

	mt, data := readFrame(t, conn)
	assert.Equal(t, websocket.TextMessage, mt)
	var warn map[string]string
	require.NoError(t, json.Unmarshal(data, &warn))
	assert.Equal(t, "warning", warn["type"])
	assert.Contains(t, warn["message"], "rate")

	assert.Equal(t, "ab", pty.written(), "rejected message is dropped, earlier ones land")
}

func TestTerminalSocketCloseCodes(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		e := newEnv(t, envConfig{token: "sesame"})
		info, pty := e.createTerminal(t)

		conn := e.dial(t, "/ws/terminals/"+info.ID)
		expectClose(t, conn, CloseUnauthorized)

		// The query-parameter token admits browser clients.
		authed := e.dial(t, "/ws/terminals/"+info.ID+"?token=sesame")
		require.NoError(t, authed.WriteMessage(websocket.BinaryMessage, []byte("ok")))
		require.Eventually(t, func() bool {
			return pty.written() == "ok"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("not found", func(t *testing.T) {
		e := newEnv(t, envConfig{})
		conn := e.dial(t, "/ws/terminals/term_missing")
		expectClose(t, conn, CloseNotFound)
	})

	t.Run("too many connections", func(t *testing.T) {
		e := newEnv(t, envConfig{maxConns: 1})
		info, _ := e.createTerminal(t)

		e.dial(t, "/ws/terminals/"+info.ID)
		require.Eventually(t, func() bool {
			got, err := e.terminals.Get(info.ID)
			return err == nil && got.Attached == 1
		}, time.Second, 10*time.Millisecond, "first socket holds the slot")

		second := e.dial(t, "/ws/terminals/"+info.ID)
		expectClose(t, second, CloseTooManyConns)
	})
}

func TestTerminalSocketDisposeClosesClients(t *testing.T) {
	e := newEnv(t, envConfig{})
	info, _ := e.createTerminal(t)
	conn := e.dial(t, "/ws/terminals/"+info.ID)

	require.Eventually(t, func() bool {
		got, err := e.terminals.Get(info.ID)
		return err == nil && got.Attached == 1
	}, time.Second, 10*time.Millisecond)

	require.True(t, e.terminals.Dispose(info.ID))
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestAgentStreamLifecycle(t *testing.T) {
	e := newEnv(t, envConfig{})
	sess := e.createAgent(t, "explain the build failure")
	conn := e.dial(t, "/ws/agents/"+sess.ID)

	ev := readEvent(t, conn)
	require.Equal(t, agent.EventInit, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, sess.ID, ev.Session.ID)
	assert.Equal(t, agent.StatusRunning, ev.Session.Status)

	e.events <- providers.Event{Type: providers.EventAssistant, Blocks: []providers.Block{
		{Type: "text", Text: "reading the logs"},
		{Type: "tool_use", ToolName: "bash", ToolInput: `{"command":"go test"}`},
	}}

	ev = readEvent(t, conn)
	require.Equal(t, agent.EventMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, agent.RoleAssistant, ev.Message.Role)
	assert.Equal(t, "reading the logs", ev.Message.Content)

	ev = readEvent(t, conn)
	require.Equal(t, agent.EventMessage, ev.Kind)
	assert.Equal(t, agent.RoleTool, ev.Message.Role)
	assert.Equal(t, "bash", ev.Message.ToolName)

	close(e.events)

	ev = readEvent(t, conn)
	require.Equal(t, agent.EventStatus, ev.Kind)
	assert.Equal(t, agent.StatusCompleted, ev.Status)

	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestAgentStreamSkipsSnapshotMessages(t *testing.T) {
	e := newEnv(t, envConfig{})
	sess := e.createAgent(t, "refactor the parser")

	e.events <- providers.Event{Type: providers.EventAssistant, Blocks: []providers.Block{
		{Type: "text", Text: "first"},
	}}
	require.Eventually(t, func() bool {
		got, err := e.engine.Get(sess.ID)
		return err == nil && len(got.Messages) == 1
	}, time.Second, 10*time.Millisecond)

	conn := e.dial(t, "/ws/agents/"+sess.ID)

	ev := readEvent(t, conn)
	require.Equal(t, agent.EventInit, ev.Kind)
	require.Len(t, ev.Session.Messages, 1, "history rides in the snapshot")

	e.events <- providers.Event{Type: providers.EventAssistant, Blocks: []providers.Block{
		{Type: "text", Text: "second"},
	}}

	ev = readEvent(t, conn)
	require.Equal(t, agent.EventMessage, ev.Kind)
	assert.Equal(t, "second", ev.Message.Content, "snapshot messages are not replayed")
	assert.Equal(t, int64(2), ev.Message.Seq)
}

func TestAgentStreamFinishedSession(t *testing.T) {
	e := newEnv(t, envConfig{})
	sess := e.createAgent(t, "one and done")

	close(e.events)
	require.Eventually(t, func() bool {
		got, err := e.engine.Get(sess.ID)
		return err == nil && got.Status == agent.StatusCompleted
	}, time.Second, 10*time.Millisecond)

	conn := e.dial(t, "/ws/agents/"+sess.ID)

	ev := readEvent(t, conn)
	require.Equal(t, agent.EventInit, ev.Kind)
	assert.Equal(t, agent.StatusCompleted, ev.Session.Status)

	ev = readEvent(t, conn)
	require.Equal(t, agent.EventStatus, ev.Kind)
	assert.Equal(t, agent.StatusCompleted, ev.Status)

	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestAgentStreamCloseCodes(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		e := newEnv(t, envConfig{token: "sesame"})
		conn := e.dial(t, "/ws/agents/agent_missing")
		expectClose(t, conn, CloseUnauthorized)
	})

	t.Run("not found", func(t *testing.T) {
		e := newEnv(t, envConfig{})
		conn := e.dial(t, "/ws/agents/agent_missing")
		expectClose(t, conn, CloseNotFound)
	})
}
