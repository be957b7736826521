package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/kbcopilot/internal/config"
)

// Paths returns the on-disk locations used by the configured backend and keyword index.
func Paths(cfg *config.StorageConfig) []string {
	var paths []string
	switch cfg.Driver {
	case config.DriverSQLite, "":
		paths = append(paths, cfg.DatabasePath, cfg.DatabasePath+"-wal", cfg.DatabasePath+"-shm")
	case config.DriverJSON:
		paths = append(paths, cfg.JSONPath)
	}
	return append(paths, cfg.KeywordIndexPath)
}

// DiskUsage returns the bytes used on disk by the configured storage.
func DiskUsage(cfg *config.StorageConfig) (int64, error) {
	return DiskUsageBytes(Paths(cfg)...)
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths and empty strings are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
