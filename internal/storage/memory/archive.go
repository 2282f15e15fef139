package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Archive keeps raw documents in memory and returns pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// PutObject stores a copy of data and returns a memory:// URI.
func (a *Archive) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return "memory://" + path, nil
}

// Object returns a stored document.
func (a *Archive) Object(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	return data, ok
}

// Paths lists the stored paths in order.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.data))
	for p := range a.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
