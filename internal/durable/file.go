package durable

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
)

// FileStore keeps every key in one JSON object on disk. The file is re-read on each
// call so a restarted client sees what the previous process wrote.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return "", false, err
	}
	val, ok := state[key]
	return val, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	state[key] = value
	return s.save(state)
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		if _, ok := state[key]; ok {
			delete(state, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(state)
}

func (s *FileStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return "", false, err
	}
	val, ok := state[key]
	if !ok {
		return "", false, nil
	}
	delete(state, key)
	if err := s.save(state); err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (map[string]string, error) {
	state := map[string]string{}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", s.path)
	}
	if len(b) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.Annotatef(err, "decoding %s", s.path)
	}
	return state, nil
}

// save writes through a temp file so a crash mid-write leaves the old state intact.
func (s *FileStore) save(state map[string]string) error {
	b, err := json.Marshal(state)
	if err != nil {
		return errors.Trace(err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Trace(err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Annotatef(err, "writing %s", tmp)
	}
	return errors.Trace(os.Rename(tmp, s.path))
}
