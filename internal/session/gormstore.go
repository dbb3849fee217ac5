package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"horse.fit/amscreen/internal/globaltime"
)

// sessionRecord is the persisted row shape. The full session travels as a
// JSON snapshot; the flat columns exist for listing and pause polling
// without deserializing the snapshot.
type sessionRecord struct {
	SessionID   string `gorm:"primaryKey;size:64"`
	SubjectName string `gorm:"size:512;index"`
	Phase       string `gorm:"size:32"`
	IsPaused    bool
	Snapshot    []byte `gorm:"type:jsonb"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (sessionRecord) TableName() string { return "screening_sessions" }

// GormStore persists sessions to Postgres. Safe for concurrent use; every
// Save is a single-row upsert so a checkpoint is atomic.
type GormStore struct {
	gdb *gorm.DB
	ttl time.Duration
}

// OpenGormStore connects, migrates the sessions table, and returns a store.
func OpenGormStore(ctx context.Context, databaseURL, logLevel string, ttl time.Duration) (*GormStore, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(logLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := gdb.WithContext(ctx).AutoMigrate(&sessionRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate sessions table: %w", err)
	}

	return &GormStore{gdb: gdb, ttl: ttl}, nil
}

func (g *GormStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var rec sessionRecord
	err := g.gdb.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if g.recordExpired(&rec) {
		return nil, ErrNotFound
	}

	var s Session
	if err := json.Unmarshal(rec.Snapshot, &s); err != nil {
		return nil, fmt.Errorf("decode session %s snapshot: %w", sessionID, err)
	}
	// The pause flag may have been toggled after the snapshot was written.
	s.IsPaused = rec.IsPaused
	return &s, nil
}

func (g *GormStore) Save(ctx context.Context, s *Session) error {
	if s.SessionID == "" {
		return errors.New("session id is empty")
	}
	s.UpdatedAt = globaltime.Now()

	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s snapshot: %w", s.SessionID, err)
	}

	rec := sessionRecord{
		SessionID:   s.SessionID,
		SubjectName: s.SubjectName,
		Phase:       string(s.Phase),
		IsPaused:    s.IsPaused,
		Snapshot:    snapshot,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
	}
	// is_paused stays owned by SetPaused so a pause issued mid-checkpoint
	// is not overwritten by the snapshot write.
	res := g.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject_name", "phase", "snapshot", "updated_at", "completed_at",
		}),
	}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("save session %s: %w", s.SessionID, res.Error)
	}
	return nil
}

func (g *GormStore) Delete(ctx context.Context, sessionID string) error {
	res := g.gdb.WithContext(ctx).Delete(&sessionRecord{}, "session_id = ?", sessionID)
	if res.Error != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, res.Error)
	}
	return nil
}

func (g *GormStore) List(ctx context.Context) ([]Summary, error) {
	var recs []sessionRecord
	if err := g.gdb.WithContext(ctx).
		Order("updated_at DESC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]Summary, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		if g.recordExpired(rec) {
			continue
		}
		var s Session
		if err := json.Unmarshal(rec.Snapshot, &s); err != nil {
			continue
		}
		s.IsPaused = rec.IsPaused
		out = append(out, s.Summary())
	}
	return out, nil
}

func (g *GormStore) SetPaused(ctx context.Context, sessionID string, paused bool) error {
	res := g.gdb.WithContext(ctx).Model(&sessionRecord{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"is_paused":  paused,
			"updated_at": globaltime.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("set session %s paused: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) IsPaused(ctx context.Context, sessionID string) (bool, error) {
	var rec sessionRecord
	err := g.gdb.WithContext(ctx).
		Select("session_id", "is_paused", "completed_at").
		First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read session %s pause flag: %w", sessionID, err)
	}
	if g.recordExpired(&rec) {
		return false, ErrNotFound
	}
	return rec.IsPaused, nil
}

// PruneExpired deletes completed sessions past the retention window.
func (g *GormStore) PruneExpired(ctx context.Context) (int64, error) {
	if g.ttl <= 0 {
		return 0, nil
	}
	cutoff := globaltime.Now().Add(-g.ttl)
	res := g.gdb.WithContext(ctx).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Delete(&sessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormStore) recordExpired(rec *sessionRecord) bool {
	if g.ttl <= 0 || rec.CompletedAt == nil {
		return false
	}
	return globaltime.Now().Sub(*rec.CompletedAt) > g.ttl
}

func resolveGormLogLevel(appLogLevel string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
