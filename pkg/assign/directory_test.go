package assign

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "meetrec-server/pkg/errors"
)

func newTestDirectory(t *testing.T) (*FileDirectory, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	path := filepath.Join(t.TempDir(), "directory.json")
	dir, err := OpenFileDirectory(logger, path)
	require.NoError(t, err)
	return dir, path
}

func TestFileDirectoryMissingFileIsEmpty(t *testing.T) {
	dir, _ := newTestDirectory(t)

	_, ok := dir.PersonByEmail("nobody@example.com")
	assert.False(t, ok)
	assert.Empty(t, dir.Groups())
}

func TestFileDirectoryLookupIsCaseInsensitive(t *testing.T) {
	dir, _ := newTestDirectory(t)
	require.NoError(t, dir.AddPerson(Person{Name: "Ada", Email: "Ada@Example.com"}))

	person, ok := dir.PersonByEmail("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, "Ada", person.Name)
	assert.NotEmpty(t, person.ID, "an ID is assigned on insert")
}

func TestFileDirectoryFindOrCreatePerson(t *testing.T) {
	dir, path := newTestDirectory(t)

	created, err := dir.FindOrCreatePerson("grace@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "grace", created.Name, "named after the address's local part")

	again, err := dir.FindOrCreatePerson("Grace@Example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "existing person resolved, not duplicated")

	// The registration survives a reopen.
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reopened, err := OpenFileDirectory(logger, path)
	require.NoError(t, err)
	person, ok := reopened.PersonByEmail("grace@example.com")
	require.True(t, ok)
	assert.Equal(t, created.ID, person.ID)
}

func TestFileDirectoryPersistsAcrossReopen(t *testing.T) {
	dir, path := newTestDirectory(t)
	require.NoError(t, dir.AddPerson(Person{Name: "Ada", Email: "ada@example.com"}))

	group, err := dir.CreateGroup("Platform Team", []string{"p1", "p2"})
	require.NoError(t, err)
	require.NotEmpty(t, group.ID)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reopened, err := OpenFileDirectory(logger, path)
	require.NoError(t, err)

	_, ok := reopened.PersonByEmail("ada@example.com")
	assert.True(t, ok)

	groups := reopened.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "Platform Team", groups[0].Name)
	assert.Equal(t, []string{"p1", "p2"}, groups[0].MemberIDs)
}

func TestFileDirectoryCorruptFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := OpenFileDirectory(logger, path)
	assert.ErrorIs(t, err, pkgerrors.ErrStorageIO)
}

func TestFileDirectoryGroupsSnapshotIsIsolated(t *testing.T) {
	dir, _ := newTestDirectory(t)
	_, err := dir.CreateGroup("Team", []string{"p1"})
	require.NoError(t, err)

	snapshot := dir.Groups()
	snapshot[0].Name = "mutated"

	assert.Equal(t, "Team", dir.Groups()[0].Name)
}
