// Package regions remembers capture regions per application so a later run
// can re-OCR the same spot without selecting it again.
package regions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"screen-ocr-translate/src/screenshot"
)

// ErrNoRegion is returned when no region has been stored for an application.
var ErrNoRegion = errors.New("no saved region for application")

// DefaultMaxPerApp bounds the history kept for each application.
const DefaultMaxPerApp = 10

// Entry is one remembered region.
type Entry struct {
	Region      screenshot.Region
	Timestamp   time.Time
	WindowTitle string
	LastUsed    time.Time
}

// Store is the on-disk region memory: application executable -> entries.
// Methods are safe for concurrent use; Update also serializes writers across
// processes with a lock file next to the store.
type Store struct {
	path      string
	maxPerApp int
	now       func() time.Time

	mu   sync.Mutex
	apps map[string][]Entry
}

func New(path string) *Store {
	return &Store{
		path:      path,
		maxPerApp: DefaultMaxPerApp,
		now:       time.Now,
		apps:      map[string][]Entry{},
	}
}

// Open creates a store and loads it from disk. A missing file is not an error.
func Open(path string) (*Store, error) {
	s := New(path)
	if err := s.Load(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Load replaces the in-memory contents with the file's. A missing file yields
// an empty store; an unreadable one yields an empty store and an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	s.apps = map[string][]Entry{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read region store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var raw map[string][]wireEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse region store %s: %w", s.path, err)
	}
	for app, entries := range raw {
		for _, w := range entries {
			e, err := w.entry()
			if err != nil {
				log.Printf("Regions: skipping bad entry for %s: %v", app, err)
				continue
			}
			s.apps[app] = append(s.apps[app], e)
		}
	}
	return nil
}

// Save writes the store to disk under the file lock.
func (s *Store) Save() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// Update reloads the file, applies fn and writes the result, holding the file
// lock throughout so concurrent processes do not lose each other's entries.
func (s *Store) Update(fn func(s *Store)) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		log.Printf("Regions: %v; starting fresh", err)
	}
	s.mu.Unlock()

	fn(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

func (s *Store) lock() (func(), error) {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create region store dir: %w", err)
		}
	}
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock region store: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (s *Store) writeLocked() error {
	raw := make(map[string][]wireEntry, len(s.apps))
	for app, entries := range s.apps {
		for _, e := range entries {
			raw[app] = append(raw[app], toWire(e))
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write region store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace region store: %w", err)
	}
	return nil
}

// Remember records region for app. Re-selecting an existing region refreshes
// it instead of duplicating it. The oldest entries beyond the per-app limit
// are dropped.
func (s *Store) Remember(app, title string, r screenshot.Region) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := s.apps[app]
	for i := range entries {
		if entries[i].Region == r {
			entries[i].LastUsed = now
			entries[i].WindowTitle = title
			return entries[i]
		}
	}
	e := Entry{Region: r, Timestamp: now, WindowTitle: title, LastUsed: now}
	entries = append(entries, e)
	if len(entries) > s.maxPerApp {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].LastUsed.After(entries[j].LastUsed) })
		entries = entries[:s.maxPerApp]
	}
	s.apps[app] = entries
	return e
}

// Last returns the most recently used region for app.
func (s *Store) Last(app string) (screenshot.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.apps[app]
	if len(entries) == 0 {
		return screenshot.Region{}, fmt.Errorf("%w: %s", ErrNoRegion, app)
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.LastUsed.After(best.LastUsed) {
			best = e
		}
	}
	return best.Region, nil
}

// Touch marks region as just used for app. It reports whether the region was found.
func (s *Store) Touch(app string, r screenshot.Region) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.apps[app]
	for i := range entries {
		if entries[i].Region == r {
			entries[i].LastUsed = s.now()
			return true
		}
	}
	return false
}

// Apps lists applications with saved regions, sorted.
func (s *Store) Apps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps := make([]string, 0, len(s.apps))
	for app := range s.apps {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// Entries returns a copy of app's entries, most recently used first.
func (s *Store) Entries(app string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Entry(nil), s.apps[app]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out
}

// Forget drops every region stored for app.
func (s *Store) Forget(app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.apps[app]
	delete(s.apps, app)
	return ok
}
