package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent when the accept pipeline rejects a socket. Custom
// codes in the 4000 range let browser clients distinguish rejection
// causes without parsing reason text.
const (
	CloseUnauthorized = 4401
	CloseNotFound     = 4404
	CloseTooManyConns = 4429
)

// writeWait bounds every socket write, control frames included.
const writeWait = 10 * time.Second

// noticeBacklog is the queue depth for inline warning frames. Warnings
// beyond a backed-up writer are dropped rather than blocking the read
// loop.
const noticeBacklog = 8

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the CORS layer
	},
}

// closeWith sends a close frame with the given code and closes the
// connection. Used by every rejection path after a successful upgrade.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
