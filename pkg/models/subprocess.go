package models

import "time"

// PressureLevel classifies memory usage against configured thresholds.
type PressureLevel string

const (
	// PressureNormal means usage is below the warning threshold.
	PressureNormal PressureLevel = "normal"
	// PressureWarning means usage crossed the warning threshold.
	PressureWarning PressureLevel = "warning"
	// PressureCritical means usage crossed the critical threshold.
	PressureCritical PressureLevel = "critical"
)

// Valid returns true if the level is a known value.
func (l PressureLevel) Valid() bool {
	switch l {
	case PressureNormal, PressureWarning, PressureCritical:
		return true
	default:
		return false
	}
}

// MemoryThresholds holds the warning/critical/max byte limits for a subprocess.
type MemoryThresholds struct {
	// Warning is the byte level that triggers a log line.
	Warning uint64 `json:"warning"`
	// Critical is the byte level that triggers a high-severity log line.
	Critical uint64 `json:"critical"`
	// Max is the byte level that triggers termination.
	Max uint64 `json:"max"`
}

// Classify returns the pressure level for the given usage.
func (t MemoryThresholds) Classify(usage uint64) PressureLevel {
	switch {
	case t.Critical > 0 && usage >= t.Critical:
		return PressureCritical
	case t.Warning > 0 && usage >= t.Warning:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// Valid returns true if the thresholds are positive and monotonic.
func (t MemoryThresholds) Valid() bool {
	return t.Warning > 0 && t.Critical > t.Warning && t.Max > t.Critical
}

// SubprocessStatus represents the state of a supervised subprocess.
type SubprocessStatus string

const (
	// SubprocessRunning indicates the process is alive.
	SubprocessRunning SubprocessStatus = "running"
	// SubprocessCompleted indicates the process exited zero.
	SubprocessCompleted SubprocessStatus = "completed"
	// SubprocessAborted indicates the process was killed for a threshold breach.
	SubprocessAborted SubprocessStatus = "aborted"
	// SubprocessFailed indicates the process exited non-zero or timed out.
	SubprocessFailed SubprocessStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubprocessStatus) Valid() bool {
	switch s {
	case SubprocessRunning, SubprocessCompleted, SubprocessAborted, SubprocessFailed:
		return true
	default:
		return false
	}
}

// MemorySample is one observation of a subprocess's resident memory.
type MemorySample struct {
	// At is when the sample was taken.
	At time.Time `json:"at"`
	// Bytes is the resident set size observed.
	Bytes uint64 `json:"bytes"`
	// Level is the pressure classification at sample time.
	Level PressureLevel `json:"level"`
}

// SubprocessRecord tracks one supervised subprocess run.
// The record is mutated only by the executor run that created it and is
// flushed to the stats log after the process finishes.
type SubprocessRecord struct {
	// PID is the OS process id.
	PID int `json:"pid"`
	// RequestID is the delegation this subprocess serves.
	RequestID string `json:"request_id"`
	// StartTime is when the process was spawned.
	StartTime time.Time `json:"start_time"`
	// EndTime is when the process finished, zero while running.
	EndTime time.Time `json:"end_time,omitempty"`
	// MemorySamples is the time series collected by the sampler.
	MemorySamples []MemorySample `json:"memory_samples,omitempty"`
	// PeakMemory is the highest resident size observed.
	PeakMemory uint64 `json:"peak_memory"`
	// Status is the subprocess outcome.
	Status SubprocessStatus `json:"status"`
	// Thresholds are the limits this run was supervised under.
	Thresholds MemoryThresholds `json:"thresholds"`
	// ExitCode is the process exit code, -1 if it was killed.
	ExitCode int `json:"exit_code"`
}

// AddSample appends a sample and updates the peak.
func (r *SubprocessRecord) AddSample(s MemorySample) {
	r.MemorySamples = append(r.MemorySamples, s)
	if s.Bytes > r.PeakMemory {
		r.PeakMemory = s.Bytes
	}
}
