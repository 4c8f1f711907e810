package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FilePrefs is a YAML-file-backed Prefs, the local analog of the browser's
// key-value preference storage (cached nickname, language choice).
type FilePrefs struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// OpenFilePrefs loads path, tolerating a missing file.
func OpenFilePrefs(path string) (*FilePrefs, error) {
	p := &FilePrefs{path: path, values: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("read prefs %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &p.values); err != nil {
		return nil, fmt.Errorf("parse prefs %s: %w", path, err)
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	return p, nil
}

func (p *FilePrefs) Get(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key]
}

func (p *FilePrefs) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return p.flushLocked()
}

func (p *FilePrefs) Remove(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return p.flushLocked()
}

func (p *FilePrefs) flushLocked() error {
	raw, err := yaml.Marshal(p.values)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	if err := os.WriteFile(p.path, raw, 0o644); err != nil {
		return fmt.Errorf("write prefs %s: %w", p.path, err)
	}
	return nil
}
