package uploader

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// currentUsage returns the total bytes stored under the user's shard
// directory. Results are cached briefly; concurrent uploads racing the cache
// can overshoot a quota by at most one file, which is accepted.
func (u *SecureFileUploader) currentUsage(userID int64) int64 {
	if cached, ok := u.usageCache.Get(userID); ok {
		return cached
	}

	usage := u.measureUsage(userID)
	u.usageCache.Add(userID, usage)
	return usage
}

func (u *SecureFileUploader) measureUsage(userID int64) int64 {
	root := u.userStorageDir(userID)
	exists, err := afero.DirExists(u.fs, root)
	if err != nil || !exists {
		return 0
	}

	var total int64
	walkErr := afero.Walk(u.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			u.logger.Warn("skipping unreadable entry during usage walk", "path", path, "error", err)
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if walkErr != nil {
		u.logger.Error("usage walk failed", "root", root, "error", walkErr)
	}
	return total
}

// invalidateUsage drops the cached usage figure after a successful store so
// the next quota check sees the new file.
func (u *SecureFileUploader) invalidateUsage(userID int64) {
	u.usageCache.Remove(userID)
}

// userStorageDir resolves the sharded per-user directory. Shard components
// come from the user ID zero-padded to ten digits, so low IDs cluster under
// models/00/00 while the directory itself keeps the natural ID.
func (u *SecureFileUploader) userStorageDir(userID int64) string {
	padded := paddedUserID(userID)
	return filepath.Join(u.cfg.BaseDir, "models", padded[0:2], padded[2:4], formatUserID(userID))
}
