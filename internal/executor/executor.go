// Package executor spawns and supervises external worker subprocesses,
// enforcing memory thresholds and wall-clock deadlines.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/stewardhq/steward/pkg/models"
)

// ErrAdmissionDenied indicates the pre-flight memory check failed;
// the subprocess was never spawned.
var ErrAdmissionDenied = errors.New("subprocess admission denied: insufficient memory headroom")

// ErrMemoryExceeded indicates the subprocess breached its max threshold
// and was aborted.
var ErrMemoryExceeded = errors.New("subprocess memory exceeded")

// ErrSubprocessTimeout indicates the subprocess exceeded its wall-clock
// deadline and was killed.
var ErrSubprocessTimeout = errors.New("subprocess timeout")

// Config holds the settings for one Executor.
type Config struct {
	// Command is the worker executable.
	Command string
	// Args are passed to the worker; the payload arrives on stdin.
	Args []string
	// Timeout is the wall-clock deadline per run, independent of
	// memory thresholds.
	Timeout time.Duration
	// GracePeriod is the gap between the graceful signal and the kill.
	GracePeriod time.Duration
	// SampleInterval is the memory polling interval.
	SampleInterval time.Duration
}

// Executor runs one external worker process per delegation under memory
// and deadline supervision. Each run owns its SubprocessRecord; no other
// component mutates it.
type Executor struct {
	cfg Config

	// sample reads subprocess memory; injectable for tests.
	sample SampleFunc
	// available reads system memory headroom; injectable for tests.
	available func() (uint64, error)

	alerts *AppendLog
	stats  *AppendLog

	// onPressure is notified when a run's pressure level changes.
	onPressure func(models.PressureLevel)
}

// New creates an Executor with /proc-based sampling and no-op logs.
func New(cfg Config) *Executor {
	return &Executor{
		cfg:       cfg,
		sample:    ReadProcRSS,
		available: AvailableMemory,
		alerts:    NopLog(),
		stats:     NopLog(),
	}
}

// SetSampleFunc overrides the per-process memory sampler.
func (e *Executor) SetSampleFunc(fn SampleFunc) {
	if fn != nil {
		e.sample = fn
	}
}

// SetAvailableFunc overrides the system headroom reader.
func (e *Executor) SetAvailableFunc(fn func() (uint64, error)) {
	if fn != nil {
		e.available = fn
	}
}

// SetPressureFunc registers a callback invoked whenever a supervised
// run's memory pressure level changes. Used to propagate pressure to
// memory-sensitive components like the prompt cache.
func (e *Executor) SetPressureFunc(fn func(models.PressureLevel)) {
	e.onPressure = fn
}

// SetLogs attaches the memory-alert and subprocess-stats logs.
func (e *Executor) SetLogs(alerts, stats *AppendLog) {
	if alerts != nil {
		e.alerts = alerts
	}
	if stats != nil {
		e.stats = stats
	}
}

// Run executes the worker for one delegation, writing the payload to its
// stdin and supervising its memory until exit.
//
// Setup failures (admission, spawn) return a nil result and an error.
// Once the process has started, Run always returns a result describing
// the outcome; the record is flushed to the stats log before returning.
func (e *Executor) Run(ctx context.Context, req *models.DelegationRequest, payload string, thresholds models.MemoryThresholds) (*models.DelegationResult, error) {
	// Pre-flight admission control: refuse to spawn without headroom for
	// the subprocess to reach its max threshold.
	if avail, err := e.available(); err == nil && avail < thresholds.Max {
		e.alerts.Logf("admission denied for %s: available=%d max=%d", req.ID, avail, thresholds.Max)
		return nil, fmt.Errorf("%w: available=%d, required=%d", ErrAdmissionDenied, avail, thresholds.Max)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.Command, e.cfg.Args...)
	cmd.Stdin = strings.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Graceful signal on cancellation, forced kill after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.cfg.GracePeriod

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", e.cfg.Command, err)
	}

	record := &models.SubprocessRecord{
		PID:        cmd.Process.Pid,
		RequestID:  req.ID,
		StartTime:  start,
		Status:     models.SubprocessRunning,
		Thresholds: thresholds,
		ExitCode:   -1,
	}

	// The sampler runs independently and communicates threshold
	// crossings over its event channel.
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()
	sampler := NewMemorySampler(e.cfg.SampleInterval, thresholds, e.sample)
	events := sampler.Run(samplerCtx, record.PID)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var (
		waitErr   error
		aborted   bool
		lastLevel = models.PressureNormal
	)

supervise:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			record.AddSample(ev.Sample)
			e.logCrossing(req.ID, record.PID, ev.Sample, lastLevel)
			if ev.Sample.Level != lastLevel && e.onPressure != nil {
				e.onPressure(ev.Sample.Level)
			}
			lastLevel = ev.Sample.Level

			if ev.Breach && !aborted {
				aborted = true
				e.alerts.Logf("CRITICAL pid=%d request=%s usage=%d exceeded max=%d, terminating",
					record.PID, req.ID, ev.Sample.Bytes, thresholds.Max)
				// Abort immediately; do not wait out the deadline.
				cancel()
			}
		case waitErr = <-waitCh:
			break supervise
		}
	}

	stopSampler()
	for ev := range events {
		record.AddSample(ev.Sample)
	}

	record.EndTime = time.Now()
	if cmd.ProcessState != nil {
		record.ExitCode = cmd.ProcessState.ExitCode()
	}

	result := &models.DelegationResult{
		RequestID:  req.ID,
		Output:     stdout.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	switch {
	case aborted:
		record.Status = models.SubprocessAborted
		result.Status = models.StatusAborted
		result.ErrorKind = models.ErrKindMemoryExceeded
		result.Error = fmt.Sprintf("%v: peak=%d max=%d", ErrMemoryExceeded, record.PeakMemory, thresholds.Max)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		record.Status = models.SubprocessFailed
		result.Status = models.StatusFailed
		result.ErrorKind = models.ErrKindTimeout
		result.Error = fmt.Sprintf("%v: deadline %s exceeded", ErrSubprocessTimeout, e.cfg.Timeout)
	case waitErr == nil:
		record.Status = models.SubprocessCompleted
		result.Status = models.StatusCompleted
	default:
		record.Status = models.SubprocessFailed
		result.Status = models.StatusFailed
		result.ErrorKind = models.ErrKindInternal
		result.Error = exitDetail(waitErr, stderr.String())
	}

	if err := e.stats.AppendJSON(record); err != nil {
		e.alerts.Logf("flush stats for %s: %v", req.ID, err)
	}

	return result, nil
}

// logCrossing writes an alert line when a sample crosses into a higher
// pressure level than the previous one.
func (e *Executor) logCrossing(requestID string, pid int, s models.MemorySample, last models.PressureLevel) {
	if s.Level == last || s.Level == models.PressureNormal {
		return
	}

	switch s.Level {
	case models.PressureWarning:
		if last == models.PressureCritical {
			return
		}
		e.alerts.Logf("WARNING pid=%d request=%s usage=%d", pid, requestID, s.Bytes)
	case models.PressureCritical:
		e.alerts.Logf("CRITICAL pid=%d request=%s usage=%d", pid, requestID, s.Bytes)
	}
}

// exitDetail builds a failure message from a wait error and stderr.
func exitDetail(waitErr error, stderr string) string {
	msg := fmt.Sprintf("process exited with error: %v", waitErr)
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		msg += "; stderr: " + stderr
	}
	return msg
}
