// Package journal persists a record of every frame a capture session
// delivered to its caller.
package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
)

const (
	componentJournal = "journal"

	// slowQueryThreshold marks statements worth a warning
	slowQueryThreshold = 200 * time.Millisecond
)

// CaptureRecord is one delivered frame.
type CaptureRecord struct {
	ID          uint      `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"index"`
	Session     string    `gorm:"index;size:36"`
	ChannelID   string    `gorm:"size:36"`
	ChannelType string    `gorm:"size:16;index"`
	FrameNumber uint32
	Status      string `gorm:"size:16"`
	Bytes       int
	Latency     time.Duration
}

// StatusCount is the number of records with one status.
type StatusCount struct {
	Status string
	Count  int64
}

// Journal is a sqlite backed capture log.
type Journal struct {
	db     *gorm.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the journal database at path and migrates its schema.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.Newf("journal path is empty").
			Component(componentJournal).
			Category(errors.CategoryValidation).
			Build()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component(componentJournal).
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	logger := logging.ForService(componentJournal)
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("path", path).
			Build()
	}
	if err := db.AutoMigrate(&CaptureRecord{}); err != nil {
		return nil, errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	logger.Debug("journal opened", "path", path)
	return &Journal{db: db, path: path, logger: logger}, nil
}

// newGormLogger routes gorm's warnings into slog.
func newGormLogger(logger *slog.Logger) gormlogger.Interface {
	return gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Record inserts rec. CreatedAt is filled in when zero.
func (j *Journal) Record(ctx context.Context, rec *CaptureRecord) error {
	if rec == nil {
		return errors.New(errors.NewStd("nil capture record")).
			Component(componentJournal).
			Category(errors.CategoryValidation).
			Build()
	}
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Context("operation", "record").
			Context("frame_number", rec.FrameNumber).
			Build()
	}
	return nil
}

// List returns the newest records of a session, newest first. An empty
// session lists every session.
func (j *Journal) List(ctx context.Context, session string, limit int) ([]CaptureRecord, error) {
	q := j.db.WithContext(ctx).Order("id DESC")
	if session != "" {
		q = q.Where("session = ?", session)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []CaptureRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Context("operation", "list").
			Build()
	}
	return recs, nil
}

// CountByStatus tallies a session's records.
func (j *Journal) CountByStatus(ctx context.Context, session string) ([]StatusCount, error) {
	var counts []StatusCount
	err := j.db.WithContext(ctx).
		Model(&CaptureRecord{}).
		Select("status, count(*) as count").
		Where("session = ?", session).
		Group("status").
		Order("status").
		Scan(&counts).Error
	if err != nil {
		return nil, errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Context("operation", "count").
			Build()
	}
	return counts, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return errors.New(err).
			Component(componentJournal).
			Category(errors.CategoryDatabase).
			Build()
	}
	return sqlDB.Close()
}
