package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// sessionRecord is the database shape of an agent session. The transcript
// is stored as a JSON column; it is read and written whole, never
// queried.
type sessionRecord struct {
	ID           string `gorm:"primaryKey"`
	Provider     string
	Prompt       string
	Cwd          string
	DeckID       string `gorm:"index"`
	Status       string
	Messages     string `gorm:"type:text"`
	TotalCostUSD float64
	DurationMS   int64
	Error        string
	MaxCostUSD   float64
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (sessionRecord) TableName() string {
	return "agent_sessions"
}

// SQLite stores sessions in a single SQLite database in WAL mode.
type SQLite struct {
	db     *gorm.DB
	logger *logging.Logger
}

// NewSQLite opens (creating if needed) the database at path and migrates
// the schema.
func NewSQLite(path string, logger *logging.Logger) (*SQLite, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Session database ready", zap.String("path", path))
	return &SQLite{db: db, logger: logger.Component("persistence.sqlite")}, nil
}

// Save upserts the full session record.
func (s *SQLite) Save(ctx context.Context, sess *agent.Session) error {
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// Update applies the mutable fields to an existing record.
func (s *SQLite) Update(ctx context.Context, id string, fields agent.Fields) error {
	msgs, err := sonic.MarshalString(fields.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript for %s: %w", id, err)
	}

	tx := s.db.WithContext(ctx).Model(&sessionRecord{ID: id}).Updates(map[string]interface{}{
		"status":         string(fields.Status),
		"error":          fields.Error,
		"messages":       msgs,
		"total_cost_usd": fields.TotalCostUSD,
		"duration_ms":    fields.DurationMS,
		"updated_at":     fields.UpdatedAt,
	})
	if tx.Error != nil {
		return fmt.Errorf("failed to update session %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("failed to update session %s: record not found", id)
	}
	return nil
}

// LoadAll returns every stored session.
func (s *SQLite) LoadAll(ctx context.Context) ([]*agent.Session, error) {
	var recs []sessionRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	out := make([]*agent.Session, 0, len(recs))
	for i := range recs {
		sess, err := fromRecord(&recs[i])
		if err != nil {
			s.logger.Warn("Skipping unreadable session record",
				zap.String("session_id", recs[i].ID),
				zap.Error(err))
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete removes the session record. Missing rows are not an error.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(sess *agent.Session) (*sessionRecord, error) {
	msgs, err := sonic.MarshalString(sess.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript for %s: %w", sess.ID, err)
	}
	return &sessionRecord{
		ID:           sess.ID,
		Provider:     sess.Provider,
		Prompt:       sess.Prompt,
		Cwd:          sess.Cwd,
		DeckID:       sess.DeckID,
		Status:       string(sess.Status),
		Messages:     msgs,
		TotalCostUSD: sess.TotalCostUSD,
		DurationMS:   sess.DurationMS,
		Error:        sess.Error,
		MaxCostUSD:   sess.MaxCostUSD,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}, nil
}

func fromRecord(rec *sessionRecord) (*agent.Session, error) {
	sess := &agent.Session{
		ID:           rec.ID,
		Provider:     rec.Provider,
		Prompt:       rec.Prompt,
		Cwd:          rec.Cwd,
		DeckID:       rec.DeckID,
		Status:       agent.Status(rec.Status),
		TotalCostUSD: rec.TotalCostUSD,
		DurationMS:   rec.DurationMS,
		Error:        rec.Error,
		MaxCostUSD:   rec.MaxCostUSD,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.Messages != "" {
		if err := sonic.UnmarshalString(rec.Messages, &sess.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
	}
	return sess, nil
}
