package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stewardhq/steward/pkg/models"
)

func testThresholds() models.MemoryThresholds {
	return models.MemoryThresholds{
		Warning:  1000 * 1024 * 1024,
		Critical: 1500 * 1024 * 1024,
		Max:      2000 * 1024 * 1024,
	}
}

// newTestExecutor builds an executor running a shell snippet with fast
// sampling and generous headroom.
func newTestExecutor(script string) *Executor {
	e := New(Config{
		Command:        "sh",
		Args:           []string{"-c", script},
		Timeout:        10 * time.Second,
		GracePeriod:    time.Second,
		SampleInterval: 10 * time.Millisecond,
	})
	e.SetAvailableFunc(func() (uint64, error) { return 1 << 40, nil })
	e.SetSampleFunc(func(pid int) (uint64, error) { return 10 * 1024 * 1024, nil })
	return e
}

func testRequest(id string) *models.DelegationRequest {
	return &models.DelegationRequest{ID: id, AgentType: "engineer", TaskDescription: "work"}
}

func TestRun_Completed(t *testing.T) {
	e := newTestExecutor("cat >/dev/null; echo done")

	result, err := e.Run(context.Background(), testRequest("req-1"), "payload", testThresholds())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if strings.TrimSpace(result.Output) != "done" {
		t.Errorf("Output = %q, want done", result.Output)
	}
}

func TestRun_PayloadReachesStdin(t *testing.T) {
	e := newTestExecutor("cat")

	result, err := e.Run(context.Background(), testRequest("req-1"), "rendered prompt", testThresholds())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "rendered prompt" {
		t.Errorf("Output = %q, want the stdin payload echoed", result.Output)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	e := newTestExecutor("echo oops >&2; exit 3")

	result, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "oops") {
		t.Errorf("Error = %q, want stderr detail", result.Error)
	}
}

func TestRun_AdmissionDenied(t *testing.T) {
	e := newTestExecutor("echo never runs")
	e.SetAvailableFunc(func() (uint64, error) { return 100, nil })

	result, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds())
	if result != nil {
		t.Error("admission denial must not produce a result")
	}
	if !errors.Is(err, ErrAdmissionDenied) {
		t.Errorf("error = %v, want ErrAdmissionDenied", err)
	}
}

func TestRun_MemoryExceededAborts(t *testing.T) {
	e := newTestExecutor("sleep 30")
	// Report 2100MB against a 2000MB max.
	e.SetSampleFunc(func(pid int) (uint64, error) { return 2100 * 1024 * 1024, nil })

	start := time.Now()
	result, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != models.StatusAborted {
		t.Errorf("Status = %s, want aborted", result.Status)
	}
	if result.ErrorKind != models.ErrKindMemoryExceeded {
		t.Errorf("ErrorKind = %s, want memory_exceeded", result.ErrorKind)
	}
	// Abort must be immediate, not bounded by the 10s wall clock.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("abort took %s, should not wait for the deadline", elapsed)
	}
}

func TestRun_Timeout(t *testing.T) {
	e := newTestExecutor("sleep 30")
	e.cfg.Timeout = 100 * time.Millisecond
	e.cfg.GracePeriod = 100 * time.Millisecond

	result, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	if result.ErrorKind != models.ErrKindTimeout {
		t.Errorf("ErrorKind = %s, want timeout", result.ErrorKind)
	}
}

func TestRun_StatsLogFlushed(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "subprocess-stats.log")
	stats, err := NewAppendLog(statsPath)
	if err != nil {
		t.Fatalf("open stats log: %v", err)
	}
	defer stats.Close()

	e := newTestExecutor("echo ok")
	e.SetLogs(NopLog(), stats)

	if _, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(statsPath)
	if err != nil {
		t.Fatalf("read stats log: %v", err)
	}
	if !strings.Contains(string(data), `"request_id":"req-1"`) {
		t.Errorf("stats log missing record: %s", data)
	}
}

func TestRun_AlertLogOnBreach(t *testing.T) {
	dir := t.TempDir()
	alertPath := filepath.Join(dir, "memory-alerts.log")
	alerts, err := NewAppendLog(alertPath)
	if err != nil {
		t.Fatalf("open alert log: %v", err)
	}
	defer alerts.Close()

	e := newTestExecutor("sleep 30")
	e.SetSampleFunc(func(pid int) (uint64, error) { return 2100 * 1024 * 1024, nil })
	e.SetLogs(alerts, NopLog())

	if _, err := e.Run(context.Background(), testRequest("req-1"), "", testThresholds()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(alertPath)
	if err != nil {
		t.Fatalf("read alert log: %v", err)
	}
	if !strings.Contains(string(data), "CRITICAL") {
		t.Errorf("alert log missing breach line: %s", data)
	}
}

func TestMemorySampler_EmitsClassifiedSamples(t *testing.T) {
	thresholds := models.MemoryThresholds{Warning: 100, Critical: 200, Max: 300}

	usage := uint64(50)
	sampler := NewMemorySampler(5*time.Millisecond, thresholds, func(pid int) (uint64, error) {
		u := usage
		usage += 100
		return u, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sampler.Run(ctx, 1234)

	first := <-events
	if first.Sample.Level != models.PressureNormal || first.Breach {
		t.Errorf("first sample = %+v, want normal", first)
	}

	second := <-events
	if second.Sample.Level != models.PressureWarning {
		t.Errorf("second sample level = %s, want warning", second.Sample.Level)
	}

	third := <-events
	if third.Sample.Level != models.PressureCritical {
		t.Errorf("third sample level = %s, want critical", third.Sample.Level)
	}

	fourth := <-events
	if !fourth.Breach {
		t.Errorf("fourth sample = %+v, want breach", fourth)
	}
}

func TestMemorySampler_StopsWhenProcessGone(t *testing.T) {
	sampler := NewMemorySampler(5*time.Millisecond, testThresholds(), func(pid int) (uint64, error) {
		return 0, errors.New("no such process")
	})

	events := sampler.Run(context.Background(), 1234)

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Error("sampler did not stop after sample failure")
	}
}

func TestParseProcKB(t *testing.T) {
	got, err := parseProcKB("  1234 kB")
	if err != nil {
		t.Fatalf("parseProcKB: %v", err)
	}
	if got != 1234*1024 {
		t.Errorf("parseProcKB = %d, want %d", got, 1234*1024)
	}

	if _, err := parseProcKB("   "); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestAppendLog_NopSafe(t *testing.T) {
	l := NopLog()
	l.Logf("nothing happens")
	if err := l.AppendJSON(map[string]int{"x": 1}); err != nil {
		t.Errorf("AppendJSON on nop log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on nop log: %v", err)
	}
}
