//go:build !unix

package storage

// FreeBytes reports the free space on the filesystem holding the store.
// Unsupported on this platform; callers treat zero as unknown.
func (s *ArtifactStore) FreeBytes() (uint64, error) {
	return 0, nil
}
