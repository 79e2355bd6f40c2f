package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// Artifact describes one stored audio file
type Artifact struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`
	ModifiedAt time.Time `json:"modified_at"`
}

// tempRecordingPrefix marks in-progress capture files. They live alongside
// finished artifacts but are invisible to List until adopted.
const tempRecordingPrefix = "rec-"

// ArtifactStore keeps session audio files under a single directory, keyed by
// UUID. Raw captures are stored as .wav; the compressor replaces them with a
// compressed extension. The directory is created lazily on first write.
type ArtifactStore struct {
	logger *logrus.Logger
	root   string
	mutex  sync.Mutex
}

// NewArtifactStore creates a store rooted at dir. No filesystem access
// happens until the first artifact is written.
func NewArtifactStore(logger *logrus.Logger, dir string) *ArtifactStore {
	return &ArtifactStore{logger: logger, root: dir}
}

// Root returns the store's directory
func (s *ArtifactStore) Root() string { return s.root }

// Put writes raw audio bytes as a new .wav artifact under the given ID
func (s *ArtifactStore) Put(id string, data []byte) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrStorageIO, "failed to create artifact directory").
			WithField("dir", s.root)
	}

	path := filepath.Join(s.root, id+".wav")
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"artifact_id": id,
		"bytes":       len(data),
	}).Debug("Stored audio artifact")
	return path, nil
}

// TempRecording creates a temp file inside the store directory for a
// recording that is streamed to disk during capture. Keeping it on the same
// filesystem lets Adopt move it into place atomically.
func (s *ArtifactStore) TempRecording(sessionID string) (*os.File, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "failed to create artifact directory").
			WithField("dir", s.root)
	}

	file, err := os.CreateTemp(s.root, tempRecordingPrefix+sessionID+"-*.wav")
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "failed to create temp recording").
			WithField("session_id", sessionID)
	}
	return file, nil
}

// Adopt moves an already-written audio file into the store under the given
// ID, keeping the source file's extension. Used for recordings streamed to
// disk during capture.
func (s *ArtifactStore) Adopt(id, srcPath string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrStorageIO, "failed to create artifact directory").
			WithField("dir", s.root)
	}

	path := filepath.Join(s.root, id+filepath.Ext(srcPath))
	if err := os.Rename(srcPath, path); err != nil {
		return "", errors.Wrap(errors.ErrStorageIO, "failed to adopt recording into store").
			WithField("src", srcPath)
	}

	s.logger.WithFields(logrus.Fields{
		"artifact_id": id,
		"path":        path,
	}).Debug("Adopted recording into artifact store")
	return path, nil
}

// Find locates the artifact file for an ID, whatever its extension
func (s *ArtifactStore) Find(id string) (Artifact, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, id+".*"))
	if err != nil || len(matches) == 0 {
		return Artifact{}, errors.Wrap(errors.ErrNotFound, "artifact not found").
			WithField("artifact_id", id)
	}

	return s.describe(id, matches[0])
}

func (s *ArtifactStore) describe(id, path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, errors.Wrap(errors.ErrStorageIO, "failed to stat artifact").
			WithField("path", path)
	}
	return Artifact{
		ID:         id,
		Path:       path,
		SizeBytes:  info.Size(),
		Compressed: filepath.Ext(path) != ".wav",
		ModifiedAt: info.ModTime(),
	}, nil
}

// List returns every adopted artifact in the store. In-progress temp
// recordings are excluded: a live session still owns them.
func (s *ArtifactStore) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "failed to read artifact directory").
			WithField("dir", s.root)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempRecordingPrefix) {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".wav" && ext != ".opus" && ext != ".ogg" && ext != ".m4a" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(ext)]
		artifact, err := s.describe(id, filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// ReclaimTempRecordings deletes in-progress capture files older than age
// and returns how many were removed. A session that died mid-recording
// leaves its temp file behind; nothing else cleans these up.
func (s *ArtifactStore) ReclaimTempRecordings(now time.Time, age time.Duration) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorageIO, "failed to read artifact directory").
			WithField("dir", s.root)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempRecordingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < age {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err,
			}).Warn("Failed to remove abandoned temp recording")
			continue
		}
		s.logger.WithField("path", path).Info("Reclaimed abandoned temp recording")
		removed++
	}
	return removed, nil
}

// Delete removes the artifact file for an ID. Deleting a missing artifact is
// not an error.
func (s *ArtifactStore) Delete(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.root, id+".*"))
	if err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to locate artifact").
			WithField("artifact_id", id)
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(errors.ErrStorageIO, "failed to delete artifact").
				WithField("path", path)
		}
		s.logger.WithField("path", path).Info("Deleted audio artifact")
	}
	return nil
}

// Export copies an artifact to a destination path chosen by the user
func (s *ArtifactStore) Export(id, destPath string) error {
	artifact, err := s.Find(id)
	if err != nil {
		return err
	}

	src, err := os.Open(artifact.Path)
	if err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to open artifact for export").
			WithField("path", artifact.Path)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to create export file").
			WithField("path", destPath)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to copy artifact").
			WithField("artifact_id", id)
	}

	s.logger.WithFields(logrus.Fields{
		"artifact_id": id,
		"dest":        destPath,
	}).Info("Exported audio artifact")
	return nil
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place, so readers never see a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to write temp file").
			WithField("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrStorageIO, "failed to move file into place").
			WithField("path", path)
	}
	return nil
}
