package ephemeris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SampleStore persists sample windows so a restart does not begin cold.
// Implementations must be safe for concurrent use.
type SampleStore interface {
	Load(ctx context.Context, body string) ([]Sample, error)
	Save(ctx context.Context, body string, samples []Sample) error
	Bodies(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process SampleStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Sample)}
}

func (m *MemoryStore) Load(_ context.Context, body string) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sample(nil), m.data[body]...), nil
}

func (m *MemoryStore) Save(_ context.Context, body string, samples []Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[body] = append([]Sample(nil), samples...)
	return nil
}

func (m *MemoryStore) Bodies(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DiskStore keeps one JSON file per body under dir.
type DiskStore struct {
	dir string
	mu  sync.Mutex // serializes writes
}

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sample store dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

const sampleFileSuffix = ".samples.json"

func (d *DiskStore) path(body string) string {
	return filepath.Join(d.dir, fileSafe(body)+sampleFileSuffix)
}

func (d *DiskStore) Load(_ context.Context, body string) ([]Sample, error) {
	data, err := os.ReadFile(d.path(body))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading samples for %s: %w", body, err)
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decoding samples for %s: %w", body, err)
	}
	return samples, nil
}

func (d *DiskStore) Save(_ context.Context, body string, samples []Sample) error {
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encoding samples for %s: %w", body, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.path(body)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing samples for %s: %w", body, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming samples for %s: %w", body, err)
	}
	return nil
}

func (d *DiskStore) Bodies(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("listing sample store: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), sampleFileSuffix); ok && !e.IsDir() {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// fileSafe maps body ids to file names. Horizons ids are digits, letters or minus.
func fileSafe(body string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, body)
}
