package storage

import (
	"context"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/scanconsole/internal/errors"
)

const stateFilePerm = 0o600

// FileStore keeps client state in a small YAML document on disk. The file is
// re-read on every access so separate CLI invocations see each other's writes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The file is created
// on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func (f *FileStore) save(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return WriteAtomic(f.path, data, stateFilePerm)
}

// Get implements Store.
func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, errors.WrapStorageError("read "+key, err)
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set implements Store.
func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return errors.WrapStorageError("read "+key, err)
	}
	values[key] = value
	if err := f.save(values); err != nil {
		return errors.WrapStorageError("write "+key, err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return errors.WrapStorageError("read "+key, err)
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if err := f.save(values); err != nil {
		return errors.WrapStorageError("delete "+key, err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	return nil
}
