// Package registry discovers and resolves agent definitions across the
// project, user, and system tiers.
package registry

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stewardhq/steward/pkg/models"
)

// ErrAgentNotFound indicates the requested agent type is absent from every tier.
var ErrAgentNotFound = errors.New("agent not found")

// TierDir pairs a tier with the directory it is loaded from.
type TierDir struct {
	// Tier is the precedence level of this directory.
	Tier models.Tier
	// Path is the directory containing one file per agent.
	Path string
}

// cacheKey identifies one parsed definition file at a point in time.
// A changed modification time produces a new key, forcing a re-parse.
type cacheKey struct {
	tier models.Tier
	path string
	mod  time.Time
}

// Registry resolves agent definitions with strict tier precedence
// (project > user > system). Parsed files are cached by modification
// time so an unchanged file is never re-parsed.
type Registry struct {
	dirs []TierDir

	// mu protects byName. Reloads build a fresh map aside and swap it in,
	// so concurrent resolves see either the old or new map, never a
	// partially-updated one.
	mu     sync.RWMutex
	byName map[string]*models.AgentDefinition
	loaded bool

	// reloadMu serializes reloads (single-writer).
	reloadMu   sync.Mutex
	parseCache map[cacheKey]*models.AgentDefinition

	// dirty marks the registry for rescan on the next resolve.
	dirty bool

	watcher *fsnotify.Watcher

	// warnLog reports skipped malformed definitions.
	warnLog func(format string, args ...interface{})
}

// New creates a Registry over the given tier directories.
// Directories must be ordered highest precedence first; missing
// directories are skipped during scans.
func New(dirs []TierDir) *Registry {
	return &Registry{
		dirs:       dirs,
		byName:     make(map[string]*models.AgentDefinition),
		parseCache: make(map[cacheKey]*models.AgentDefinition),
		dirty:      true,
		warnLog: func(format string, args ...interface{}) {
			log.Printf("[registry] "+format, args...)
		},
	}
}

// SetWarnLog overrides the warning log function.
func (r *Registry) SetWarnLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.warnLog = fn
	}
}

// Resolve returns the definition for the given agent type, honoring tier
// precedence. Returns ErrAgentNotFound for unknown names; callers must
// treat that as a hard failure, not a silent default.
func (r *Registry) Resolve(agentType string) (*models.AgentDefinition, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	def, ok := r.byName[agentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, agentType)
	}
	return def, nil
}

// ListAll returns every visible definition after precedence resolution,
// one entry per name, ordered by name.
func (r *Registry) ListAll() ([]*models.AgentDefinition, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defs := make([]*models.AgentDefinition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Invalidate marks the registry for rescan on the next resolve.
func (r *Registry) Invalidate() {
	r.reloadMu.Lock()
	r.dirty = true
	r.reloadMu.Unlock()
}

// Reload rescans all tier directories immediately.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	return r.reloadLocked()
}

// ensureLoaded rescans if the registry is dirty or has never loaded.
func (r *Registry) ensureLoaded() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()

	if loaded && !r.dirty {
		return nil
	}
	return r.reloadLocked()
}

// reloadLocked rebuilds the name map. Caller must hold reloadMu.
func (r *Registry) reloadLocked() error {
	fresh := make(map[string]*models.AgentDefinition)

	// Process tiers highest precedence first and keep first-seen per name.
	for _, td := range r.dirs {
		entries, err := os.ReadDir(td.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s tier %s: %w", td.Tier, td.Path, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}

			path := filepath.Join(td.Path, entry.Name())
			info, err := entry.Info()
			if err != nil {
				r.warnLog("stat %s: %v", path, err)
				continue
			}

			def, err := r.parseCached(td.Tier, path, info.ModTime())
			if err != nil {
				// Malformed definitions are skipped, never fatal.
				r.warnLog("skipping malformed definition: %v", err)
				continue
			}

			if _, exists := fresh[def.Name]; exists {
				continue
			}
			fresh[def.Name] = def
		}
	}

	r.mu.Lock()
	r.byName = fresh
	r.loaded = true
	r.mu.Unlock()
	r.dirty = false

	return nil
}

// parseCached returns a cached definition for an unchanged file, parsing
// only when the (tier, path, mtime) key is new.
func (r *Registry) parseCached(tier models.Tier, path string, mod time.Time) (*models.AgentDefinition, error) {
	key := cacheKey{tier: tier, path: path, mod: mod}
	if def, ok := r.parseCache[key]; ok {
		return def, nil
	}

	def, err := ParseFile(path, tier, mod)
	if err != nil {
		return nil, err
	}

	r.parseCache[key] = def
	return def, nil
}

// Watch starts a filesystem watcher on the tier directories that exist.
// Any event marks the registry dirty so the next resolve rescans.
// Returns without error if no directory can be watched.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := 0
	for _, td := range r.dirs {
		if _, err := os.Stat(td.Path); err != nil {
			continue
		}
		if err := watcher.Add(td.Path); err != nil {
			r.warnLog("watch %s: %v", td.Path, err)
			continue
		}
		watched++
	}

	if watched == 0 {
		watcher.Close()
		return nil
	}

	r.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.warnLog("watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the filesystem watcher, if running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
