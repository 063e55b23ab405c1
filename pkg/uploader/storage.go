package uploader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/meshvault/meshvault/pkg/breaker"
)

// StorageResult describes where a file ended up.
type StorageResult struct {
	Path         string   `json:"path"`
	Hash         string   `json:"hash"`
	Deduplicated bool     `json:"deduplicated"`
	Warnings     []string `json:"warnings,omitempty"`
}

func paddedUserID(userID int64) string {
	return fmt.Sprintf("%010d", userID)
}

func formatUserID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// storeFile persists the staged file through the storage-system breaker.
// When durable storage is unavailable the file is parked in contingency
// storage instead of being lost.
func (u *SecureFileUploader) storeFile(ctx context.Context, stagedPath string, file FileUpload, userID int64) (*StorageResult, error) {
	return breaker.Do(ctx, u.storage,
		func() (*StorageResult, error) {
			return u.storeFilePrimary(stagedPath, file, userID)
		},
		func(ctx context.Context, cause error) (*StorageResult, error) {
			return u.storeFileContingency(stagedPath, file, userID, cause)
		})
}

// storeFilePrimary writes the file into the sharded content-addressed layout:
// hash the content, derive the per-user shard directory, deduplicate against
// an existing copy, otherwise back up, rename into place, and verify the
// destination hash before committing.
func (u *SecureFileUploader) storeFilePrimary(stagedPath string, file FileUpload, userID int64) (*StorageResult, error) {
	hash, err := u.hashFile(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("hashing staged file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	userDir := u.userStorageDir(userID)
	target := filepath.Join(userDir, hash+ext)

	if err := u.fs.MkdirAll(userDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	if exists, _ := afero.Exists(u.fs, target); exists {
		existingHash, err := u.hashFile(target)
		if err == nil && existingHash == hash {
			u.logger.Info("duplicate upload, reusing stored file", "hash", hash, "path", target)
			if err := u.writeMetadataSidecar(userDir, target, hash, ext, file); err != nil {
				u.logger.Warn("could not refresh metadata sidecar", "path", target, "error", err)
			}
			return &StorageResult{Path: target, Hash: hash, Deduplicated: true}, nil
		}
		// Stored file no longer matches its own name: corrupted. Replace it.
		u.logger.Warn("stored file failed hash verification, replacing", "path", target, "expected", hash)
	}

	backupPath := target + ".backup"
	if err := copyFile(u.fs, stagedPath, backupPath); err != nil {
		return nil, fmt.Errorf("writing pre-move backup: %w", err)
	}

	if err := u.moveIntoPlace(stagedPath, target); err != nil {
		u.removeQuietly(backupPath)
		return nil, fmt.Errorf("moving file into storage: %w", err)
	}

	storedHash, err := u.hashFile(target)
	if err != nil || storedHash != hash {
		// Destination is not what we wrote. Restore from the backup copy.
		if restoreErr := copyFile(u.fs, backupPath, target); restoreErr != nil {
			u.removeQuietly(backupPath)
			return nil, fmt.Errorf("storage verification failed and restore failed: %v", restoreErr)
		}
		if restoredHash, restoredErr := u.hashFile(target); restoredErr != nil || restoredHash != hash {
			u.removeQuietly(backupPath)
			return nil, fmt.Errorf("storage verification failed for %s", target)
		}
		u.logger.Warn("storage verification failed, restored from backup", "path", target)
	}
	u.removeQuietly(backupPath)

	if err := u.writeMetadataSidecar(userDir, target, hash, ext, file); err != nil {
		u.logger.Warn("could not write metadata sidecar", "path", target, "error", err)
	}

	u.invalidateUsage(userID)
	return &StorageResult{Path: target, Hash: hash}, nil
}

// storeFileContingency parks the upload in a flat timestamped holding area
// when the primary storage path is unavailable.
func (u *SecureFileUploader) storeFileContingency(stagedPath string, file FileUpload, userID int64, cause error) (*StorageResult, error) {
	u.logger.Warn("primary storage unavailable, using contingency storage",
		"file", file.Name, "userID", userID, "cause", cause)

	dir := filepath.Join(u.cfg.BaseDir, "contingency_storage")
	if err := u.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("contingency storage unavailable: %w", err)
	}

	name := fmt.Sprintf("%d_%d_%s", u.now().Unix(), userID, filepath.Base(file.Name))
	target := filepath.Join(dir, name)
	if err := copyFile(u.fs, stagedPath, target); err != nil {
		return nil, fmt.Errorf("contingency storage write failed: %w", err)
	}

	hash, err := u.hashFile(target)
	if err != nil {
		u.logger.Warn("could not hash contingency file", "path", target, "error", err)
	}

	u.invalidateUsage(userID)
	return &StorageResult{
		Path:     target,
		Hash:     hash,
		Warnings: []string{"file stored in contingency storage pending primary storage recovery"},
	}, nil
}

func (u *SecureFileUploader) writeMetadataSidecar(userDir, storedPath, hash, ext string, file FileUpload) error {
	metadataDir := filepath.Join(userDir, "metadata")
	if err := u.fs.MkdirAll(metadataDir, 0o750); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}

	record := FileMetadata{
		FileHash:     hash,
		OriginalName: file.Name,
		StoredPath:   storedPath,
		UploadedAt:   u.now().Unix(),
		FileSize:     file.Size,
		MimeType:     file.DeclaredType,
		Extension:    ext,
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	return afero.WriteFile(u.fs, filepath.Join(metadataDir, hash+".json"), encoded, 0o640)
}

// moveIntoPlace prefers an atomic rename and falls back to copy+remove when
// the rename crosses filesystems.
func (u *SecureFileUploader) moveIntoPlace(src, dst string) error {
	if err := u.fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(u.fs, src, dst); err != nil {
		return err
	}
	return u.fs.Remove(src)
}

func (u *SecureFileUploader) removeQuietly(path string) {
	if exists, _ := afero.Exists(u.fs, path); exists {
		if err := u.fs.Remove(path); err != nil {
			u.logger.Warn("could not remove file", "path", path, "error", err)
		}
	}
}

func (u *SecureFileUploader) hashFile(path string) (string, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
