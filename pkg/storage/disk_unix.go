//go:build unix

package storage

import (
	"os"
	"path/filepath"
	"syscall"

	"meetrec-server/pkg/errors"
)

// FreeBytes reports the free space on the filesystem holding the store.
// Falls back to the parent directory while the store is still lazy.
func (s *ArtifactStore) FreeBytes() (uint64, error) {
	path := s.root
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(s.root)
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, errors.Wrap(errors.ErrStorageIO, "failed to stat filesystem").
			WithField("path", path)
	}
	return uint64(fs.Bavail) * uint64(fs.Bsize), nil
}
