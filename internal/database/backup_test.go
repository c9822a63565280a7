package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gymkaana/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	seedBookings(t, db)

	storagePath := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()
	s := NewBackupService(db, config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.FileExists(t, path)

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()
		b, err := restored.GetBookingByToken(context.Background(), "ABC123")
		require.NoError(t, err)
		assert.Equal(t, "bk-1", b.ID)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldTime := time.Now().AddDate(0, 0, -2)
		oldBackup := filepath.Join(storagePath, "entries_old.db")
		unrelated := filepath.Join(storagePath, "notes.txt")
		for _, p := range []string{oldBackup, unrelated} {
			require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))
			require.NoError(t, os.Chtimes(p, oldTime, oldTime))
		}

		s.CleanupOldBackups()

		assert.NoFileExists(t, oldBackup)
		assert.FileExists(t, unrelated)

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})
}

func TestBackupService_Disabled(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	s.Start(context.Background())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled backup service did not stop")
	}
}

func TestBackupService_StopWaitsForLoop(t *testing.T) {
	db := setupTestDB(t)
	seedBookings(t, db)

	storagePath := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()
	s := NewBackupService(db, config.BackupConfig{
		Enabled:     true,
		Schedule:    "1h",
		StoragePath: storagePath,
	}, &logger)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		files, _ := filepath.Glob(filepath.Join(storagePath, "entries_*.db"))
		return len(files) == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case <-s.done:
	default:
		t.Fatal("loop still running after Stop")
	}

	// The database can be closed safely once Stop has returned.
	require.NoError(t, db.Close())
}
