// Package contextfilter narrows shared context bundles to the subset
// relevant to a given agent type.
package contextfilter

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"
)

// KeyTaskDescription is the bundle section every agent receives.
const KeyTaskDescription = "task_description"

// ResultKeyPrefix prefixes sections holding a prior agent's output.
const ResultKeyPrefix = "result:"

// Spec describes what one agent type is allowed to see.
type Spec struct {
	// Allow lists the bundle sections visible to the agent.
	// The task description is always included regardless.
	Allow []string
	// MaxBytes caps the total filtered bundle size. Zero means no cap.
	// Sections are admitted in sorted key order until the cap is hit;
	// the task description is always admitted first.
	MaxBytes int
}

// Filter applies registered per-agent-type specs to context bundles.
// Filtering is a pure function of (bundle, registered spec), so identical
// inputs always produce identical outputs; the prompt cache depends on
// this for fingerprint stability.
type Filter struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// New creates a Filter with no registered specs.
// Unregistered agent types get the default minimal filter
// (task description only).
func New() *Filter {
	return &Filter{specs: make(map[string]Spec)}
}

// Register sets the spec for an agent type, replacing any existing one.
func (f *Filter) Register(agentType string, spec Spec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[agentType] = spec
}

// Narrow returns the subset of the bundle visible to the agent type.
// The input bundle is never mutated.
func (f *Filter) Narrow(bundle map[string]string, agentType string) map[string]string {
	f.mu.RLock()
	spec, ok := f.specs[agentType]
	f.mu.RUnlock()

	out := make(map[string]string)

	if desc, present := bundle[KeyTaskDescription]; present {
		out[KeyTaskDescription] = desc
	}
	if !ok {
		return out
	}

	allowed := make([]string, 0, len(spec.Allow))
	for _, key := range spec.Allow {
		if key == KeyTaskDescription {
			continue
		}
		if _, present := bundle[key]; present {
			allowed = append(allowed, key)
		}
	}
	sort.Strings(allowed)

	used := len(out[KeyTaskDescription])
	for _, key := range allowed {
		val := bundle[key]
		if spec.MaxBytes > 0 && used+len(val) > spec.MaxBytes {
			continue
		}
		out[key] = val
		used += len(val)
	}

	return out
}

// MergeResult returns a copy of the bundle with a prior agent's output
// added as a result section, for later agents in the same workflow.
func MergeResult(bundle map[string]string, agentType, output string) map[string]string {
	out := make(map[string]string, len(bundle)+1)
	for k, v := range bundle {
		out[k] = v
	}
	out[ResultKeyPrefix+agentType] = output
	return out
}

// Digest computes a stable hash of a bundle. Keys are visited in sorted
// order and each key/value is length-prefixed so distinct bundles cannot
// collide by concatenation.
func Digest(bundle map[string]string) string {
	keys := make([]string, 0, len(bundle))
	for k := range bundle {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	var lenBuf [8]byte
	for _, k := range keys {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(k)))
		h.Write(lenBuf[:])
		h.Write([]byte(k))
		v := bundle[k]
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(v)))
		h.Write(lenBuf[:])
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}
