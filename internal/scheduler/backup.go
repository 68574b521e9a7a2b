package scheduler

import (
	"context"
	"time"

	"github.com/aristath/coffer/internal/ledger"
	"github.com/aristath/coffer/internal/reliability"
	"github.com/rs/zerolog"
)

const backupTimeout = 10 * time.Minute

// BackupJob uploads a database backup off-site and rotates old ones.
type BackupJob struct {
	service   *reliability.BackupService
	snapshots *reliability.SnapshotStore
	led       *ledger.Ledger
	keep      int
	log       zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(
	service *reliability.BackupService,
	snapshots *reliability.SnapshotStore,
	led *ledger.Ledger,
	keep int,
	log zerolog.Logger,
) *BackupJob {
	return &BackupJob{
		service:   service,
		snapshots: snapshots,
		led:       led,
		keep:      keep,
		log:       log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads a backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	// Persist the current overview alongside the backup so a restored
	// instance can show what the books looked like at backup time.
	if j.snapshots != nil {
		if err := j.snapshots.Put("ledger_overview", j.led.Snapshot()); err != nil {
			j.log.Warn().Err(err).Msg("Failed to store ledger overview snapshot")
		}
	}

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if err := j.service.RotateOldBackups(ctx, j.keep); err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
		// The backup itself succeeded.
	}
	return nil
}
