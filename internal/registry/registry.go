// file: internal/registry/registry.go
// version: 1.0.0
// guid: 6d7e8f9a-0b1c-2d3e-4f5a-6b7c8d9e0f1b

// Package registry maintains the directory of SFD institutions the daemon
// is allowed to proxy for, loaded from a YAML file and hot-reloaded when
// the file changes.
package registry

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is the default settle period before a changed file is
// re-read. Editors often produce several write events per save.
const DefaultDebounce = 500 * time.Millisecond

// SFD describes one institution entry in the directory file.
type SFD struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

type directoryFile struct {
	Sfds []SFD `yaml:"sfds"`
}

// Registry is a concurrency-safe view over the directory file.
type Registry struct {
	mu   sync.RWMutex
	path string
	sfds map[string]SFD

	debounce time.Duration
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stop     chan struct{}
	stopped  chan struct{}
	running  bool

	// OnReload, when set, is called with the entry count after each
	// successful reload.
	OnReload func(count int)
}

// Load reads the directory file and returns a registry over it.
func Load(path string) (*Registry, error) {
	r := &Registry{
		path:     path,
		sfds:     make(map[string]SFD),
		debounce: DefaultDebounce,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the directory file, replacing the in-memory view only on
// success. A malformed file leaves the previous view intact.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read SFD directory %s: %w", r.path, err)
	}
	var parsed directoryFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse SFD directory %s: %w", r.path, err)
	}

	sfds := make(map[string]SFD, len(parsed.Sfds))
	for _, s := range parsed.Sfds {
		if s.ID == "" {
			return fmt.Errorf("SFD directory %s contains an entry without an id", r.path)
		}
		sfds[s.ID] = s
	}

	r.mu.Lock()
	r.sfds = sfds
	cb := r.OnReload
	r.mu.Unlock()

	if cb != nil {
		cb(len(sfds))
	}
	return nil
}

// Get returns the entry for an SFD id.
func (r *Registry) Get(id string) (SFD, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sfds[id]
	return s, ok
}

// IsActive reports whether the SFD exists and is not disabled.
func (r *Registry) IsActive(id string) bool {
	s, ok := r.Get(id)
	return ok && !s.Disabled
}

// List returns all entries sorted by id.
func (r *Registry) List() []SFD {
	r.mu.RLock()
	out := make([]SFD, 0, len(r.sfds))
	for _, s := range r.sfds {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch starts watching the directory file and reloads it after events
// settle for the debounce duration. It is safe to call only once.
func (r *Registry) Watch() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(r.path); err != nil {
		fsw.Close()
		return err
	}
	r.watcher = fsw

	go r.eventLoop()
	return nil
}

func (r *Registry) eventLoop() {
	defer close(r.stopped)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.scheduleReload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] SFD directory watcher error: %v", err)
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if err := r.Reload(); err != nil {
			log.Printf("[WARN] SFD directory reload failed, keeping previous view: %v", err)
			return
		}
		log.Printf("[INFO] SFD directory reloaded from %s", r.path)
	})
}

// Close stops the watcher if running.
func (r *Registry) Close() error {
	r.mu.Lock()
	running := r.running
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	if !running || r.watcher == nil {
		return nil
	}
	close(r.stop)
	err := r.watcher.Close()
	<-r.stopped
	return err
}
