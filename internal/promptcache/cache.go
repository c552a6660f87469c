// Package promptcache stores rendered instruction payloads keyed by
// agent identity and context fingerprint, bounded by TTL and total
// resident memory.
package promptcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stewardhq/steward/internal/contextfilter"
	"github.com/stewardhq/steward/pkg/models"
)

// ErrRenderFailed indicates the instruction template could not be rendered.
// The cache is never populated on a failed render.
var ErrRenderFailed = errors.New("prompt render failed")

// Options configures a Cache.
type Options struct {
	// TTL is how long a rendered payload stays valid.
	TTL time.Duration
	// MaxBytes caps the total resident payload size.
	MaxBytes int64
	// CriticalTargetFraction is the fraction of MaxBytes to evict down to
	// under critical pressure.
	CriticalTargetFraction float64
}

// Stats reports cache activity counters.
type Stats struct {
	// Hits counts lookups served from the cache.
	Hits uint64
	// Misses counts lookups that required a render.
	Misses uint64
	// Renders counts template renders performed.
	Renders uint64
	// Evictions counts entries removed for space, TTL, or pressure.
	Evictions uint64
	// ResidentBytes is the current total payload size.
	ResidentBytes int64
	// Entries is the current live entry count.
	Entries int
}

// entry is one cached rendered payload.
type entry struct {
	fingerprint  string
	payload      string
	sizeBytes    int64
	createdAt    time.Time
	lastAccessAt time.Time
	ttlExpiry    time.Time
}

// Cache is a memory-bounded cache of rendered prompts.
//
// Writes are serialized behind one mutex. Concurrent GetOrRender calls
// for the same fingerprint are collapsed into a single render; waiting
// callers share the first caller's result, so a half-written entry is
// never observable.
type Cache struct {
	opts Options

	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	totalBytes int64

	hits      uint64
	misses    uint64
	renders   uint64
	evictions uint64

	group singleflight.Group

	// now is the clock, injectable for TTL tests.
	now func() time.Time
}

// New creates a Cache with the given options.
func New(opts Options) *Cache {
	if opts.CriticalTargetFraction <= 0 || opts.CriticalTargetFraction >= 1 {
		opts.CriticalTargetFraction = 0.5
	}
	return &Cache{
		opts:    opts,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// Fingerprint derives the cache key from an agent's identity and the
// filtered context handed to the renderer.
func Fingerprint(agentName string, filtered map[string]string) string {
	h := sha256.New()
	h.Write([]byte(agentName))
	h.Write([]byte{0})
	h.Write([]byte(contextfilter.Digest(filtered)))
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrRender returns the cached payload for (agent, filtered) if present
// and unexpired, rendering and storing it otherwise.
func (c *Cache) GetOrRender(agent *models.AgentDefinition, filtered map[string]string) (string, error) {
	fp := Fingerprint(agent.Name, filtered)

	if payload, ok := c.lookup(fp); ok {
		return payload, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// A concurrent caller may have populated the entry while this
		// caller was queued on the flight group. The miss was already
		// counted by the pre-flight lookup.
		if payload, ok := c.peek(fp); ok {
			return payload, nil
		}

		payload, err := c.render(agent, filtered)
		if err != nil {
			return "", err
		}

		c.insert(fp, payload)
		return payload, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// lookup returns an unexpired cached payload and refreshes its recency.
func (c *Cache) lookup(fp string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		c.misses++
		return "", false
	}

	e := elem.Value.(*entry)
	if c.now().After(e.ttlExpiry) {
		c.removeLocked(elem)
		c.evictions++
		c.misses++
		return "", false
	}

	e.lastAccessAt = c.now()
	c.lru.MoveToFront(elem)
	c.hits++
	return e.payload, true
}

// peek is lookup without hit/miss accounting, for the double-check
// inside a single-flight render.
func (c *Cache) peek(fp string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		return "", false
	}

	e := elem.Value.(*entry)
	if c.now().After(e.ttlExpiry) {
		c.removeLocked(elem)
		c.evictions++
		return "", false
	}

	e.lastAccessAt = c.now()
	c.lru.MoveToFront(elem)
	return e.payload, true
}

// render executes the agent's instruction template over the filtered bundle.
func (c *Cache) render(agent *models.AgentDefinition, filtered map[string]string) (string, error) {
	c.mu.Lock()
	c.renders++
	c.mu.Unlock()

	return Render(agent, filtered)
}

// Render executes an agent's instruction template over a filtered bundle
// without touching any cache. Missing keys render as empty values.
func Render(agent *models.AgentDefinition, filtered map[string]string) (string, error) {
	tmpl, err := template.New(agent.Name).Option("missingkey=zero").Parse(agent.InstructionTemplate)
	if err != nil {
		return "", fmt.Errorf("%w: parse template for %s: %v", ErrRenderFailed, agent.Name, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, filtered); err != nil {
		return "", fmt.Errorf("%w: execute template for %s: %v", ErrRenderFailed, agent.Name, err)
	}
	return sb.String(), nil
}

// insert stores a rendered payload, evicting least-recently-used entries
// first so the cap is never exceeded when this returns. A payload larger
// than the cap itself is returned to the caller but not cached.
func (c *Cache) insert(fp, payload string) {
	size := int64(len(payload))

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.opts.MaxBytes {
		return
	}

	if elem, ok := c.entries[fp]; ok {
		c.removeLocked(elem)
	}

	for c.totalBytes+size > c.opts.MaxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	now := c.now()
	e := &entry{
		fingerprint:  fp,
		payload:      payload,
		sizeBytes:    size,
		createdAt:    now,
		lastAccessAt: now,
		ttlExpiry:    now.Add(c.opts.TTL),
	}
	c.entries[fp] = c.lru.PushFront(e)
	c.totalBytes += size
}

// removeLocked unlinks an entry. Caller must hold mu.
func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.lru.Remove(elem)
	delete(c.entries, e.fingerprint)
	c.totalBytes -= e.sizeBytes
}

// ReportPressure applies the memory-pressure policy:
// NORMAL is a no-op, WARNING sweeps expired entries, CRITICAL evicts
// least-recently-used entries down to the configured target fraction
// of the cap.
func (c *Cache) ReportPressure(level models.PressureLevel) {
	switch level {
	case models.PressureWarning:
		c.sweepExpired()
	case models.PressureCritical:
		c.sweepExpired()
		c.evictToTarget()
	}
}

// sweepExpired removes every entry past its TTL.
func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).ttlExpiry) {
			c.removeLocked(elem)
			c.evictions++
		}
		elem = prev
	}
}

// evictToTarget evicts LRU-first until resident size is at or below
// CriticalTargetFraction of the cap.
func (c *Cache) evictToTarget() {
	target := int64(float64(c.opts.MaxBytes) * c.opts.CriticalTargetFraction)

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.totalBytes > target {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

// Invalidate removes the entry for a fingerprint, if present.
func (c *Cache) Invalidate(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[fp]; ok {
		c.removeLocked(elem)
	}
}

// Purge removes all entries.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.lru.Back(); elem != nil; elem = c.lru.Back() {
		c.removeLocked(elem)
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Renders:       c.renders,
		Evictions:     c.evictions,
		ResidentBytes: c.totalBytes,
		Entries:       len(c.entries),
	}
}
