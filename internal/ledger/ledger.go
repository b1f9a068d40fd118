// Package ledger remembers which recordings were processed so a later run
// can skip inputs that have not changed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/keagan/motionclips/internal/recording"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Entry is the outcome of processing one recording
type Entry struct {
	ID          uint              `gorm:"primaryKey"`
	Path        string            `gorm:"column:path;uniqueIndex;not null"`
	Size        int64             `gorm:"column:size"`
	ModTime     int64             `gorm:"column:mod_time"` // unix nanoseconds
	Settings    string            `gorm:"column:settings"` // detection settings fingerprint
	Duration    float64           `gorm:"column:duration"`
	Ranges      []motion.Interval `gorm:"column:ranges;serializer:json"`
	Clips       int               `gorm:"column:clips"`
	Failures    int               `gorm:"column:failures"`
	ProcessedAt time.Time         `gorm:"column:processed_at"`
}

// TableName implements gorm's tabler
func (Entry) TableName() string {
	return "processed_videos"
}

// Store is a sqlite-backed ledger
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens or creates the ledger database at path. ":memory:" keeps it
// in memory.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; an in-memory database exists per connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// Seen reports whether rec was processed before without failures, with the
// same detection settings, and has not changed since
func (s *Store) Seen(ctx context.Context, rec recording.Recording, settings string) (bool, error) {
	e, err := s.Get(ctx, rec.Path)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	if e == nil {
		return false, nil
	}

	fileSame := e.Size == rec.Size && e.ModTime == rec.ModTime.UnixNano()
	settingsSame := e.Settings == settings
	seen := fileSame && settingsSame && e.Failures == 0
	s.logger.Debug().
		Str("video", rec.Path).
		Bool("unchanged", seen).
		Bool("settings_changed", !settingsSame).
		Int("failures", e.Failures).
		Msg("ledger lookup")
	return seen, nil
}

// Get returns the entry for path, or nil when there is none
func (s *Store) Get(ctx context.Context, path string) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Record stores the outcome for a recording processed with the given
// detection settings, replacing any earlier entry
func (s *Store) Record(ctx context.Context, rec recording.Recording, settings string, duration float64, ranges []motion.Interval, clips, failures int) error {
	e := Entry{
		Path:        rec.Path,
		Size:        rec.Size,
		ModTime:     rec.ModTime.UnixNano(),
		Settings:    settings,
		Duration:    duration,
		Ranges:      ranges,
		Clips:       clips,
		Failures:    failures,
		ProcessedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"size", "mod_time", "settings", "duration", "ranges", "clips", "failures", "processed_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("ledger write failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
