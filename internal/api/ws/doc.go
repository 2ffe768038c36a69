// Package ws implements the WebSocket gateways.
//
// Two gateways share one accept idiom: upgrade first, then run the
// rejection checks against the live socket so the client receives a
// distinguishing close code instead of a failed handshake.
//
// Terminal gateway (GET /ws/terminals/:id):
//   - Pipeline: connection guard (4429), auth (4401), lookup (4404).
//   - On accept: replay the output buffer to this socket only, then
//     relay PTY output as binary frames.
//   - Inbound frames are guarded by size and rate; rejected frames draw
//     an inline JSON warning, never a close. A 0x01-prefixed frame
//     carrying "cols,rows" resizes the PTY; anything else is raw input.
//
// Agent gateway (GET /ws/agents/:id):
//   - Pipeline: auth (4401), subscribe (4404).
//   - First frame is an init snapshot; message and status events follow
//     in publish order. Finished sessions deliver the snapshot plus a
//     one-shot status frame, then a normal closure.
//
// Both gateways funnel all data writes through a single goroutine per
// connection to satisfy gorilla's one-writer rule.
package ws
