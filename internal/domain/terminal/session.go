package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// MaxDim bounds terminal dimensions in both axes.
const MaxDim = 500

// Session represents one live PTY process and its attached client sinks.
type Session struct {
	ID        string
	Title     string
	DeckID    string
	Shell     string
	Cwd       string
	CreatedAt time.Time

	// Process management
	cmd *exec.Cmd
	pty Handle

	// Output buffering
	buf *Buffer

	// Lifecycle; guards everything below
	mu         sync.RWMutex
	cols       int
	rows       int
	lastActive time.Time
	sinks      map[string]chan []byte
	disposed   bool
}

// Info is the public representation of a session.
type Info struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DeckID       string    `json:"deck_id"`
	Shell        string    `json:"shell"`
	Cwd          string    `json:"cwd"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Attached     int       `json:"attached"`
}

// info snapshots the session under its lock.
func (s *Session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:           s.ID,
		Title:        s.Title,
		DeckID:       s.DeckID,
		Shell:        s.Shell,
		Cwd:          s.Cwd,
		Cols:         s.cols,
		Rows:         s.rows,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.lastActive,
		Attached:     len(s.sinks),
	}
}

// touch updates the activity timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// deliver appends one output chunk to the buffer and fans it out to every
// attached sink. Buffer write and fan-out happen under the same lock Attach
// uses for its replay snapshot, so a chunk reaches a given socket exactly
// once: either in the replay or through its sink. A full sink drops the
// chunk for that sink only; siblings still receive it.
func (s *Session) deliver(chunk []byte) (dropped int) {
	s.mu.RLock()
	s.buf.Write(chunk)
	for _, sink := range s.sinks {
		select {
		case sink <- chunk:
		default:
			dropped++
		}
	}
	s.mu.RUnlock()

	s.touch()
	return dropped
}

// Handle abstracts the PTY file so tests can substitute a pipe-backed fake.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Resize(cols, rows int) error
}

// SpawnFunc starts cmd on a PTY sized cols×rows.
type SpawnFunc func(cmd *exec.Cmd, cols, rows int) (Handle, error)

// osPTY is the production Handle backed by creack/pty.
type osPTY struct {
	f *os.File
}

func (p *osPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *osPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *osPTY) Close() error                { return p.f.Close() }

func (p *osPTY) Resize(cols, rows int) error {
	return pty.Setsize(p.f, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// defaultSpawn starts the command with an attached PTY of the given size.
func defaultSpawn(cmd *exec.Cmd, cols, rows int) (Handle, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, err
	}
	return &osPTY{f: ptmx}, nil
}

// clampDim bounds one terminal dimension to [1, MaxDim].
func clampDim(v int) int {
	if v < 1 {
		return 1
	}
	if v > MaxDim {
		return MaxDim
	}
	return v
}
