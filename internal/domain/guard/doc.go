// Package guard enforces connection and message-rate ceilings for client
// sockets.
//
// Components:
//   - Per-address connection counters with a hard ceiling
//   - Per-connection sliding-window message counters
//
// The guard holds no references to sockets and performs no I/O; callers are
// responsible for acting on rejections (refusing an upgrade, warning a
// client). All state is process-local and resets on restart.
package guard
