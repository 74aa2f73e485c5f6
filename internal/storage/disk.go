package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL and rollback mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// DiskUsage is the on-disk size of the database, the keyword index and the uploaded images.
type DiskUsage struct {
	Database int64 `json:"database"`
	Index    int64 `json:"index"`
	Uploads  int64 `json:"uploads"`
}

// Total returns the combined size in bytes.
func (d DiskUsage) Total() int64 {
	return d.Database + d.Index + d.Uploads
}

// MeasureDiskUsage sizes each data location. The database size includes its WAL and
// shared-memory files. Paths that do not exist yet count as zero.
func MeasureDiskUsage(databasePath, indexPath, uploadsDir string) (DiskUsage, error) {
	var (
		usage DiskUsage
		err   error
	)
	for _, p := range append([]string{databasePath}, sidecarPaths(databasePath)...) {
		n, err := pathSize(p)
		if err != nil {
			return DiskUsage{}, err
		}
		usage.Database += n
	}
	if usage.Index, err = pathSize(indexPath); err != nil {
		return DiskUsage{}, err
	}
	if usage.Uploads, err = pathSize(uploadsDir); err != nil {
		return DiskUsage{}, err
	}
	return usage, nil
}

func sidecarPaths(databasePath string) []string {
	if databasePath == "" {
		return nil
	}
	out := make([]string, len(sqliteSidecars))
	for i, suffix := range sqliteSidecars {
		out[i] = databasePath + suffix
	}
	return out
}

// pathSize returns the size of a file or the recursive size of a directory.
func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
