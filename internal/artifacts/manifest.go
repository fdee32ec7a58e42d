package artifacts

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManifestFile is the manifest's file name inside the artifact root.
const ManifestFile = "manifest.json"

var (
	ErrNoManifestEntry = errors.New("no manifest entry")
	ErrCorruptManifest = errors.New("corrupt manifest")
)

// Params are the inputs that produced an artifact. A change in any value
// invalidates the artifact.
type Params map[string]string

// Set records a string parameter and returns p for chaining.
func (p Params) Set(key, value string) Params {
	p[key] = value
	return p
}

// Int records an integer parameter.
func (p Params) Int(key string, value int) Params {
	p[key] = strconv.Itoa(value)
	return p
}

// Float records a float parameter in its shortest exact form.
func (p Params) Float(key string, value float64) Params {
	p[key] = strconv.FormatFloat(value, 'g', -1, 64)
	return p
}

// Entry describes one artifact as it was written.
type Entry struct {
	Stage     string    `json:"stage"`
	Params    Params    `json:"params"`
	SHA256    string    `json:"sha256"`
	RunID     string    `json:"run_id"`
	WrittenAt time.Time `json:"written_at"`
}

// Status is the outcome of comparing an artifact against the manifest.
type Status int

const (
	StatusMissing Status = iota
	StatusParamsChanged
	StatusContentChanged
	StatusFresh
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusParamsChanged:
		return "params changed"
	case StatusContentChanged:
		return "content changed"
	case StatusFresh:
		return "fresh"
	}
	return "unknown"
}

// Manifest maps artifact paths, relative to its root, to the entry that
// produced them. It is safe for concurrent use.
type Manifest struct {
	root  string
	runID string

	mu      sync.Mutex
	entries map[string]Entry
}

type manifestDoc struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// New returns an empty manifest rooted at root.
func New(root string) *Manifest {
	return &Manifest{root: root, runID: uuid.NewString(), entries: make(map[string]Entry)}
}

// Open loads root/manifest.json. A missing file yields an empty manifest. A
// file that cannot be decoded yields an empty manifest and an error wrapping
// ErrCorruptManifest, so callers can warn and recompute everything.
func Open(root string) (*Manifest, error) {
	m := New(root)
	var doc manifestDoc
	err := ReadJSON(filepath.Join(root, ManifestFile), &doc)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return m, nil
	case err != nil:
		return m, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	if doc.Entries != nil {
		m.entries = doc.Entries
	}
	return m, nil
}

// Root returns the directory artifact paths are relative to.
func (m *Manifest) Root() string { return m.root }

// RunID identifies the process that is recording entries.
func (m *Manifest) RunID() string { return m.runID }

// Path resolves a relative artifact path against the root.
func (m *Manifest) Path(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

// Check compares the artifact at rel against its recorded entry: the stage and
// parameters must match and the file on disk must hash to the recorded sum.
func (m *Manifest) Check(rel, stage string, params Params) Status {
	m.mu.Lock()
	e, ok := m.entries[filepath.ToSlash(rel)]
	m.mu.Unlock()

	if !ok {
		return StatusMissing
	}
	if e.Stage != stage || !maps.Equal(e.Params, params) {
		return StatusParamsChanged
	}
	sum, err := HashFile(m.Path(rel))
	if err != nil {
		return StatusMissing
	}
	if sum != e.SHA256 {
		return StatusContentChanged
	}
	return StatusFresh
}

// Fresh is Check(...) == StatusFresh.
func (m *Manifest) Fresh(rel, stage string, params Params) bool {
	return m.Check(rel, stage, params) == StatusFresh
}

// Lookup returns the entry recorded for rel.
func (m *Manifest) Lookup(rel string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[filepath.ToSlash(rel)]
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", rel, ErrNoManifestEntry)
	}
	return e, nil
}

// Record stores the entry for rel and persists the manifest.
func (m *Manifest) Record(rel, stage string, params Params, sum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[filepath.ToSlash(rel)] = Entry{
		Stage:     stage,
		Params:    maps.Clone(params),
		SHA256:    sum,
		RunID:     m.runID,
		WrittenAt: time.Now().UTC(),
	}
	return m.saveLocked()
}

// WriteJSON writes v to rel atomically and records it under stage and params.
func (m *Manifest) WriteJSON(rel, stage string, params Params, v any) error {
	sum, err := WriteJSON(m.Path(rel), v)
	if err != nil {
		return err
	}
	return m.Record(rel, stage, params, sum)
}

// Write stores data at rel atomically and records it under stage and params.
func (m *Manifest) Write(rel, stage string, params Params, data []byte) error {
	if err := WriteFile(m.Path(rel), data); err != nil {
		return err
	}
	return m.Record(rel, stage, params, Sum(data))
}

// Remove deletes the artifacts at rels and forgets their entries. Paths that
// do not exist are ignored. It returns how many files were removed.
func (m *Manifest) Remove(rels ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, rel := range rels {
		err := os.Remove(m.Path(rel))
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			return removed, fmt.Errorf("remove %s: %w", rel, err)
		}
		delete(m.entries, filepath.ToSlash(rel))
	}
	return removed, m.saveLocked()
}

// Len returns the number of recorded artifacts.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manifest) saveLocked() error {
	_, err := WriteJSON(filepath.Join(m.root, ManifestFile), manifestDoc{Version: 1, Entries: m.entries})
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
