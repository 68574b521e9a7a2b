package reliability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stageBackup builds a verified staging directory containing one
// database file and its manifest.
func stageBackup(t *testing.T, dataDir, content string) {
	t.Helper()

	stagingDir := filepath.Join(dataDir, restoreStagingDir)
	require.NoError(t, os.MkdirAll(stagingDir, 0755))

	dbPath := filepath.Join(stagingDir, "ledger.db")
	writeFile(t, dbPath, content)

	checksum, err := checksumFile(dbPath)
	require.NoError(t, err)

	info, err := os.Stat(dbPath)
	require.NoError(t, err)

	manifest := Manifest{
		Timestamp: time.Now().UTC(),
		Databases: []DatabaseManifest{
			{Name: "ledger", Filename: "ledger.db", SizeBytes: info.Size(), Checksum: checksum},
		},
	}
	require.NoError(t, writeManifest(filepath.Join(stagingDir, manifestName), manifest))
}

// TestCheckPendingRestore covers the staged-restore detection states.
func TestCheckPendingRestore(t *testing.T) {
	t.Run("nothing staged", func(t *testing.T) {
		svc := NewRestoreService(nil, t.TempDir(), zerolog.Nop())
		pending, err := svc.CheckPendingRestore()
		require.NoError(t, err)
		assert.False(t, pending)
	})

	t.Run("staging debris without manifest", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dataDir, restoreStagingDir), 0755))

		svc := NewRestoreService(nil, dataDir, zerolog.Nop())
		pending, err := svc.CheckPendingRestore()
		require.NoError(t, err)
		assert.False(t, pending)
	})

	t.Run("fully staged", func(t *testing.T) {
		dataDir := t.TempDir()
		stageBackup(t, dataDir, "restored ledger")

		svc := NewRestoreService(nil, dataDir, zerolog.Nop())
		pending, err := svc.CheckPendingRestore()
		require.NoError(t, err)
		assert.True(t, pending)
	})
}

// TestExecuteStagedRestore verifies the file swap and cleanup.
func TestExecuteStagedRestore(t *testing.T) {
	dataDir := t.TempDir()
	livePath := filepath.Join(dataDir, "ledger.db")
	writeFile(t, livePath, "old ledger")
	writeFile(t, livePath+"-wal", "stale journal")
	stageBackup(t, dataDir, "restored ledger")

	svc := NewRestoreService(nil, dataDir, zerolog.Nop())
	require.NoError(t, svc.ExecuteStagedRestore())

	data, err := os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "restored ledger", string(data))

	_, err = os.Stat(livePath + "-wal")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(livePath + ".pre-restore")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dataDir, restoreStagingDir))
	assert.True(t, os.IsNotExist(err))
}

// TestExecuteStagedRestore_CorruptStaging verifies a checksum mismatch
// blocks the swap and leaves the live file alone.
func TestExecuteStagedRestore_CorruptStaging(t *testing.T) {
	dataDir := t.TempDir()
	livePath := filepath.Join(dataDir, "ledger.db")
	writeFile(t, livePath, "old ledger")
	stageBackup(t, dataDir, "restored ledger")

	// Flip bytes after the manifest was written.
	writeFile(t, filepath.Join(dataDir, restoreStagingDir, "ledger.db"), "tampered ledger!")

	svc := NewRestoreService(nil, dataDir, zerolog.Nop())
	err := svc.ExecuteStagedRestore()
	assert.ErrorContains(t, err, "checksum mismatch")

	data, readErr := os.ReadFile(livePath)
	require.NoError(t, readErr)
	assert.Equal(t, "old ledger", string(data))
}

// TestStageRestore_RequiresStorage verifies staging without configured
// backup storage fails cleanly.
func TestStageRestore_RequiresStorage(t *testing.T) {
	svc := NewRestoreService(nil, t.TempDir(), zerolog.Nop())
	err := svc.StageRestore(context.Background(), "coffer-backup-2026-08-01-120000.tar.gz")
	assert.ErrorContains(t, err, "no backup storage configured")
}
