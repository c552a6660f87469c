package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stewardhq/steward/pkg/models"
)

// SampleFunc reads the resident memory of a process in bytes.
// Injectable so tests can simulate memory growth without real processes.
type SampleFunc func(pid int) (uint64, error)

// MemoryEvent is one sampler observation delivered to the executor.
type MemoryEvent struct {
	// Sample is the observation, already classified against thresholds.
	Sample models.MemorySample
	// Breach is true when usage reached the max threshold.
	Breach bool
}

// MemorySampler polls a subprocess's resident memory at a fixed interval
// and reports observations over a channel. It runs as an independent
// goroutine; the executor reacts to events, the sampler never touches
// the process itself.
type MemorySampler struct {
	interval   time.Duration
	thresholds models.MemoryThresholds
	sample     SampleFunc
}

// NewMemorySampler creates a sampler. A nil sample function defaults to
// reading /proc.
func NewMemorySampler(interval time.Duration, thresholds models.MemoryThresholds, sample SampleFunc) *MemorySampler {
	if sample == nil {
		sample = ReadProcRSS
	}
	return &MemorySampler{
		interval:   interval,
		thresholds: thresholds,
		sample:     sample,
	}
}

// Run starts sampling the given pid. The returned channel receives one
// event per poll and is closed when the context is canceled or the
// process can no longer be sampled (it exited).
func (s *MemorySampler) Run(ctx context.Context, pid int) <-chan MemoryEvent {
	events := make(chan MemoryEvent, 16)

	go func() {
		defer close(events)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			usage, err := s.sample(pid)
			if err != nil {
				// Process gone or /proc unreadable; the executor learns
				// the outcome from Wait.
				return
			}

			ev := MemoryEvent{
				Sample: models.MemorySample{
					At:    time.Now(),
					Bytes: usage,
					Level: s.thresholds.Classify(usage),
				},
				Breach: s.thresholds.Max > 0 && usage >= s.thresholds.Max,
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

// ReadProcRSS reads a process's resident set size from /proc/<pid>/status.
func ReadProcRSS(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, fmt.Errorf("open proc status: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		return parseProcKB(strings.TrimPrefix(line, "VmRSS:"))
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read proc status: %w", err)
	}
	return 0, fmt.Errorf("VmRSS not found for pid %d", pid)
}

// AvailableMemory reads MemAvailable from /proc/meminfo.
func AvailableMemory() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("open meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		return parseProcKB(strings.TrimPrefix(line, "MemAvailable:"))
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	return 0, fmt.Errorf("MemAvailable not found")
}

// parseProcKB parses a "  12345 kB" value into bytes.
func parseProcKB(s string) (uint64, error) {
	fields := strings.Fields(s)
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed proc value %q", s)
	}
	kb, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse proc value %q: %w", s, err)
	}
	return kb * 1024, nil
}
