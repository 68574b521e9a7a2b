package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const restoreStagingDir = "restore-staging"

// RestoreService stages backup archives for restore on next startup.
// Restores are never applied to a running process: the archive is
// downloaded and unpacked into a staging directory, and the database
// files are swapped in before any connection is opened.
type RestoreService struct {
	r2Client *R2Client // nil when only executing an already staged restore
	dataDir  string
	log      zerolog.Logger
}

// NewRestoreService creates a new restore service
func NewRestoreService(r2Client *R2Client, dataDir string, log zerolog.Logger) *RestoreService {
	return &RestoreService{
		r2Client: r2Client,
		dataDir:  dataDir,
		log:      log.With().Str("service", "restore").Logger(),
	}
}

// StageRestore downloads a backup archive, unpacks it, verifies every
// database file against the manifest, and leaves it staged for the
// next startup.
func (s *RestoreService) StageRestore(ctx context.Context, filename string) error {
	if s.r2Client == nil {
		return fmt.Errorf("no backup storage configured")
	}
	if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".tar.gz") {
		return fmt.Errorf("not a backup archive: %s", filename)
	}

	s.log.Info().Str("archive", filename).Msg("Staging restore")

	stagingDir := filepath.Join(s.dataDir, restoreStagingDir)
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	archivePath := filepath.Join(stagingDir, filename)
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if err := s.r2Client.Download(ctx, filename, archiveFile); err != nil {
		archiveFile.Close()
		return fmt.Errorf("failed to download archive: %w", err)
	}
	archiveFile.Close()

	if err := extractArchive(archivePath, stagingDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}
	if err := os.Remove(archivePath); err != nil {
		s.log.Warn().Err(err).Msg("Failed to remove downloaded archive after extraction")
	}

	if err := s.verifyStaged(stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("staged restore failed verification: %w", err)
	}

	s.log.Warn().
		Str("archive", filename).
		Msg("Restore staged, restart the service to apply it")
	return nil
}

// CheckPendingRestore reports whether a staged restore is waiting.
func (s *RestoreService) CheckPendingRestore() (bool, error) {
	stagingDir := filepath.Join(s.dataDir, restoreStagingDir)
	info, err := os.Stat(stagingDir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists but is not a directory", stagingDir)
	}

	_, err = os.Stat(filepath.Join(stagingDir, manifestName))
	if os.IsNotExist(err) {
		// A staging directory without a manifest is debris from an
		// interrupted stage; ignore it.
		s.log.Warn().Str("dir", stagingDir).Msg("Staging directory without manifest, ignoring")
		return false, nil
	}
	return err == nil, err
}

// ExecuteStagedRestore swaps the staged database files into place.
// Must run before any database connection is opened. The current files
// are kept with a .pre-restore suffix until the swap completes.
func (s *RestoreService) ExecuteStagedRestore() error {
	stagingDir := filepath.Join(s.dataDir, restoreStagingDir)

	manifest, err := readManifest(filepath.Join(stagingDir, manifestName))
	if err != nil {
		return fmt.Errorf("failed to read staged manifest: %w", err)
	}
	if err := s.verifyStaged(stagingDir); err != nil {
		return fmt.Errorf("staged restore failed verification: %w", err)
	}

	for _, db := range manifest.Databases {
		stagedPath := filepath.Join(stagingDir, db.Filename)
		livePath := filepath.Join(s.dataDir, db.Filename)

		// Remove WAL and SHM leftovers so SQLite does not replay a
		// stale journal over the restored file.
		for _, suffix := range []string{"-wal", "-shm"} {
			os.Remove(livePath + suffix)
		}

		if _, err := os.Stat(livePath); err == nil {
			if err := os.Rename(livePath, livePath+".pre-restore"); err != nil {
				return fmt.Errorf("failed to set aside %s: %w", db.Filename, err)
			}
		}
		if err := os.Rename(stagedPath, livePath); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", db.Filename, err)
		}

		s.log.Info().Str("database", db.Name).Msg("Database restored")
	}

	// Swap complete; drop the safety copies and the staging dir.
	for _, db := range manifest.Databases {
		os.Remove(filepath.Join(s.dataDir, db.Filename+".pre-restore"))
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		s.log.Warn().Err(err).Msg("Failed to remove staging directory")
	}

	s.log.Info().Int("databases", len(manifest.Databases)).Msg("Staged restore executed")
	return nil
}

// verifyStaged checks every staged database file against the manifest
// checksums.
func (s *RestoreService) verifyStaged(stagingDir string) error {
	manifest, err := readManifest(filepath.Join(stagingDir, manifestName))
	if err != nil {
		return err
	}

	for _, db := range manifest.Databases {
		path := filepath.Join(stagingDir, db.Filename)
		checksum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", db.Filename, err)
		}
		if checksum != db.Checksum {
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", db.Filename, checksum, db.Checksum)
		}
	}
	return nil
}

// extractArchive unpacks a tar.gz archive into destDir. Entries with
// path separators are rejected; backup archives are flat.
func extractArchive(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}
		if strings.Contains(header.Name, "/") || strings.Contains(header.Name, `\`) {
			return fmt.Errorf("unexpected path in archive: %s", header.Name)
		}

		out, err := os.Create(filepath.Join(destDir, header.Name))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}
}
