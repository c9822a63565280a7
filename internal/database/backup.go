package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gymkaana/internal/config"

	"github.com/rs/zerolog"
)

const backupPrefix = "entries_"

// BackupService snapshots the entry database on a schedule and prunes old
// snapshots.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{db: db, config: cfg, logger: logger, done: make(chan struct{})}
}

// Start runs a backup immediately and then every configured interval in the
// background until ctx is done or Stop is called. It does nothing when
// backups are disabled.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info().Dur("interval", s.config.Interval()).Str("path", s.config.StoragePath).Msg("Backup service started")
}

// Stop ends the loop and waits for a backup in progress to finish. The
// database must stay open until Stop returns.
func (s *BackupService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *BackupService) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval())
	defer ticker.Stop()

	for {
		if _, err := s.PerformBackup(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a consistent copy of the live database with VACUUM INTO
// and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + time.Now().Format("20060102_150405.000") + ".db"
	path := filepath.Join(s.config.StoragePath, name)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}

	s.logger.Info().Str("path", path).Msg("Backup completed")
	return path, nil
}

// CleanupOldBackups removes snapshots older than the retention period. Other
// files in the directory are left alone.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) || filepath.Ext(file.Name()) != ".db" {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.config.StoragePath, file.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", file.Name()).Msg("Failed to delete old backup")
			continue
		}
		s.logger.Info().Str("file", file.Name()).Msg("Deleted old backup")
	}
}
