package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is a Store persisted as a flat YAML mapping. It is read once when
// opened and rewritten on every change.
type File struct {
	*Memory
	path string
	log  *zap.Logger
	save sync.Mutex
}

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &File{Memory: NewMemory(), path: path, log: log}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	return f, nil
}

// Set stores value and writes the file. Write errors are logged; the value
// is kept in memory either way.
func (f *File) Set(key, value string) {
	f.save.Lock()
	defer f.save.Unlock()
	if old, ok := f.Get(key); ok && old == value {
		return
	}
	f.Memory.Set(key, value)
	if err := f.Save(); err != nil {
		f.log.Warn("cannot save settings", zap.String("path", f.path), zap.Error(err))
	}
}

// Save writes all values, replacing the file atomically.
func (f *File) Save() error {
	data, err := yaml.Marshal(f.Snapshot())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
