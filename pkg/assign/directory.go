package assign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// directoryFile is the on-disk shape of the directory
type directoryFile struct {
	People []Person `json:"people"`
	Groups []Group  `json:"groups"`
}

// FileDirectory is a Directory backed by a single JSON file. People are
// maintained by hand or by an external sync; groups created by the
// assignment engine are persisted back to the same file.
type FileDirectory struct {
	logger *logrus.Logger
	path   string

	byEmail map[string]Person
	groups  []Group
	mutex   sync.RWMutex
}

// OpenFileDirectory loads the directory file. A missing file yields an
// empty directory rather than an error so a fresh install works unseeded.
func OpenFileDirectory(logger *logrus.Logger, path string) (*FileDirectory, error) {
	d := &FileDirectory{
		logger:  logger,
		path:    path,
		byEmail: make(map[string]Person),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "failed to read directory file").
			WithField("path", path)
	}

	var file directoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "directory file is corrupt").
			WithField("path", path)
	}

	for _, person := range file.People {
		d.byEmail[strings.ToLower(person.Email)] = person
	}
	d.groups = file.Groups

	logger.WithFields(logrus.Fields{
		"path":   path,
		"people": len(file.People),
		"groups": len(file.Groups),
	}).Info("Loaded contact directory")
	return d, nil
}

// PersonByEmail resolves an attendee address, case-insensitively
func (d *FileDirectory) PersonByEmail(email string) (Person, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	person, ok := d.byEmail[strings.ToLower(email)]
	return person, ok
}

// Groups returns a snapshot of all saved groups
func (d *FileDirectory) Groups() []Group {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	out := make([]Group, len(d.groups))
	copy(out, d.groups)
	return out
}

// CreateGroup saves a new group and persists the directory
func (d *FileDirectory) CreateGroup(name string, memberIDs []string) (Group, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	group := Group{
		ID:        uuid.New().String(),
		Name:      name,
		MemberIDs: memberIDs,
	}
	d.groups = append(d.groups, group)

	if err := d.persistLocked(); err != nil {
		d.groups = d.groups[:len(d.groups)-1]
		return Group{}, err
	}

	d.logger.WithFields(logrus.Fields{
		"group_id": group.ID,
		"name":     name,
		"members":  len(memberIDs),
	}).Info("Created contact group")
	return group, nil
}

// FindOrCreatePerson resolves an attendee address, registering a new person
// when the address is unknown. The created person is named after the local
// part of the address until a proper sync fills it in.
func (d *FileDirectory) FindOrCreatePerson(email string) (Person, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	key := strings.ToLower(email)
	if person, ok := d.byEmail[key]; ok {
		return person, nil
	}

	name := email
	if at := strings.Index(email, "@"); at > 0 {
		name = email[:at]
	}
	person := Person{
		ID:    uuid.New().String(),
		Name:  name,
		Email: email,
	}
	d.byEmail[key] = person

	if err := d.persistLocked(); err != nil {
		delete(d.byEmail, key)
		return Person{}, err
	}

	d.logger.WithFields(logrus.Fields{
		"person_id": person.ID,
		"email":     email,
	}).Info("Registered new person from attendee address")
	return person, nil
}

// AddPerson registers or replaces a person and persists the directory
func (d *FileDirectory) AddPerson(person Person) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if person.ID == "" {
		person.ID = uuid.New().String()
	}
	d.byEmail[strings.ToLower(person.Email)] = person
	return d.persistLocked()
}

func (d *FileDirectory) persistLocked() error {
	file := directoryFile{
		People: make([]Person, 0, len(d.byEmail)),
		Groups: d.groups,
	}
	for _, person := range d.byEmail {
		file.People = append(file.People, person)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode directory")
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to create directory parent").
			WithField("path", d.path)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", d.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to write directory file").
			WithField("path", tmp)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrStorageIO, "failed to replace directory file").
			WithField("path", d.path)
	}
	return nil
}
