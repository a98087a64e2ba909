package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore persists ADC no-filament references in a YAML file, one entry
// per sensor name. It implements fsensor.CalibrationStore.
type FileStore struct {
	path string

	mu   sync.Mutex
	refs map[string]int32
}

// OpenFileStore reads path if it exists. A missing file is an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, refs: make(map[string]int32)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.refs); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if s.refs == nil {
		s.refs = make(map[string]int32)
	}
	return s, nil
}

func (s *FileStore) LoadReference(sensor string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[sensor]
	return ref, ok
}

func (s *FileStore) SaveReference(sensor string, ref int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[sensor] = ref
	return s.flushLocked()
}

func (s *FileStore) ClearReference(sensor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[sensor]; !ok {
		return nil
	}
	delete(s.refs, sensor)
	return s.flushLocked()
}

// flushLocked writes the file through a temporary so a crash never leaves
// it truncated.
func (s *FileStore) flushLocked() error {
	data, err := yaml.Marshal(s.refs)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calibration-*")
	if err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}
