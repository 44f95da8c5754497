package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Store = &FileStore{}

// fileNames maps record names to the file names the device has always used
// on its flash filesystem. Unknown records use "<name>.json".
var fileNames = map[string]string{
	NetworkRecord: "network_config.json",
	TankRecord:    "tank_params.json",
	PinsRecord:    "pin_config.json",
	SystemRecord:  "system_config.json",
}

// FileStore keeps one JSON document per record in a directory.
type FileStore struct {
	dir string
	mu  *sync.RWMutex
}

// NewFileStore returns a store rooted at dir, creating the directory if it
// does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create config directory %s", dir)
	}
	return &FileStore{
		dir: dir,
		mu:  &sync.RWMutex{},
	}, nil
}

// Path returns the file that backs the named record.
func (f *FileStore) Path(name string) string {
	file, ok := fileNames[name]
	if !ok {
		file = name + ".json"
	}
	return filepath.Join(f.dir, file)
}

func (f *FileStore) Load(name string, v any) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	path := f.Path(name)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pkgerrors.Wrapf(ErrNotFound, "record %s (%s)", name, path)
		}
		return pkgerrors.Wrapf(err, "failed to read file %s", path)
	}

	// An empty file is treated like a missing one; the record was created
	// but never written.
	if len(bytes.TrimSpace(b)) == 0 {
		return pkgerrors.Wrapf(ErrNotFound, "record %s (%s) is empty", name, path)
	}

	if err := json.Unmarshal(b, v); err != nil {
		logrus.WithError(err).WithField("file", path).Debug("failed to unmarshal config record")
		return pkgerrors.Wrapf(ErrParse, "record %s (%s): %v", name, path, err)
	}

	return nil
}

// Save writes the record to a temporary file next to the target and renames
// it into place, so a crash mid-write leaves the previous record intact.
func (f *FileStore) Save(name string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode record %s", name)
	}
	b = append(b, '\n')

	path := f.Path(name)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to write file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to sync file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close file %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		logrus.Warnf("failed to chmod %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace file %s", path)
	}

	return nil
}
