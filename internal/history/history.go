// Package history persists execution records in an embedded SQLite database.
//
// History is strictly best-effort accounting: once an execution has produced
// a result, a history failure is logged and never surfaced to the caller.
package history

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"runbox/internal/executor"
	"runbox/internal/logging"
	"runbox/pkg/models"
)

// Store records finished executions and serves bounded listings.
type Store struct {
	db      *gorm.DB
	maxRows int
}

// Open opens (or creates) the history database and migrates the schema.
func Open(path string, maxRows int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&models.ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, maxRows: maxRows}, nil
}

// Record stores one finished execution and prunes rows beyond the retention
// bound. Failures are logged, not returned.
func (s *Store) Record(res *executor.Result) {
	rec := &models.ExecutionRecord{
		ExecutionID: res.ID,
		Language:    res.Language,
		Version:     res.ResolvedVersion,
		Outcome:     string(res.Outcome),
		ExitCode:    res.ExitCode,
		Signal:      res.Signal,
		WallTimeMs:  res.WallTimeMs,
		CPUTimeMs:   res.CPUTimeMs,
		StdoutBytes: int64(len(res.Stdout)),
		StderrBytes: int64(len(res.Stderr)),
		Truncated:   res.StdoutTruncated || res.StderrTruncated,
		SandboxMode: res.SandboxMode,
		CreatedAt:   res.CompletedAt,
	}
	if err := s.db.Create(rec).Error; err != nil {
		logging.L().Warn("history record failed",
			zap.String("id", res.ID),
			zap.Error(err))
		return
	}
	s.prune()
}

// Recent returns up to limit records, most recent first.
func (s *Store) Recent(limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 || limit > s.maxRows {
		limit = s.maxRows
	}
	var recs []models.ExecutionRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// Get returns one record by execution ID.
func (s *Store) Get(executionID string) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	if err := s.db.Where("execution_id = ?", executionID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// prune drops the oldest rows past the retention bound.
func (s *Store) prune() {
	if s.maxRows <= 0 {
		return
	}
	var count int64
	if err := s.db.Model(&models.ExecutionRecord{}).Count(&count).Error; err != nil || count <= int64(s.maxRows) {
		return
	}
	err := s.db.Exec(
		"DELETE FROM execution_records WHERE id NOT IN (SELECT id FROM execution_records ORDER BY id DESC LIMIT ?)",
		s.maxRows,
	).Error
	if err != nil {
		logging.L().Warn("history prune failed", zap.Error(err))
	}
}
