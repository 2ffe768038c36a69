package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// File stores one gzipped JSON document per session. Writes go through a
// temp file and rename so a crash never leaves a half-written record.
type File struct {
	dir    string
	logger *logging.Logger
}

// NewFile creates a file store rooted at dir.
func NewFile(dir string, logger *logging.Logger) (*File, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	logger.Info("Session file store ready", zap.String("dir", dir))
	return &File{dir: dir, logger: logger.Component("persistence.file")}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+".json.gz")
}

// Save writes the full session document.
func (f *File) Save(ctx context.Context, sess *agent.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.write(sess)
}

// Update rewrites the mutable fields of an existing document. The stored
// identity fields are kept; a missing document is an error.
func (f *File) Update(ctx context.Context, id string, fields agent.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := f.read(f.path(id))
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	sess.Status = fields.Status
	sess.Error = fields.Error
	sess.Messages = fields.Messages
	sess.TotalCostUSD = fields.TotalCostUSD
	sess.DurationMS = fields.DurationMS
	sess.UpdatedAt = fields.UpdatedAt
	return f.write(sess)
}

func (f *File) write(sess *agent.Session) error {
	data, err := sonic.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}

	tmp := f.path(sess.ID) + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}

	gz := gzip.NewWriter(file)
	if _, err := gz.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	if err := gz.Close(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to finish session %s: %w", sess.ID, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tmp, f.path(sess.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadAll reads every stored session. Unreadable documents are skipped so
// one corrupt file cannot block startup.
func (f *File) LoadAll(ctx context.Context) ([]*agent.Session, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*.json.gz"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan session directory: %w", err)
	}

	out := make([]*agent.Session, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := f.read(path)
		if err != nil {
			f.logger.Warn("Skipping unreadable session file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (f *File) read(path string) (*agent.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var sess agent.Session
	if err := sonic.ConfigDefault.NewDecoder(gz).Decode(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Delete removes the session document. Missing files are not an error.
func (f *File) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the store holds no open resources between calls.
func (f *File) Close() error {
	return nil
}
