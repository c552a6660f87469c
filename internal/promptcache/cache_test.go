package promptcache

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stewardhq/steward/internal/contextfilter"
	"github.com/stewardhq/steward/pkg/models"
)

func testAgent(name, tmpl string) *models.AgentDefinition {
	return &models.AgentDefinition{
		Name:                name,
		Tier:                models.TierProject,
		InstructionTemplate: tmpl,
	}
}

func testOptions() Options {
	return Options{
		TTL:                    300 * time.Second,
		MaxBytes:               50 * 1024 * 1024,
		CriticalTargetFraction: 0.5,
	}
}

func TestGetOrRender_RoundTrip(t *testing.T) {
	c := New(testOptions())
	agent := testAgent("engineer", "Do this: {{.task_description}}")
	filtered := map[string]string{contextfilter.KeyTaskDescription: "fix tests"}

	first, err := c.GetOrRender(agent, filtered)
	if err != nil {
		t.Fatalf("first GetOrRender: %v", err)
	}
	if first != "Do this: fix tests" {
		t.Errorf("payload = %q", first)
	}

	second, err := c.GetOrRender(agent, filtered)
	if err != nil {
		t.Fatalf("second GetOrRender: %v", err)
	}
	if second != first {
		t.Error("identical arguments must return byte-identical payloads")
	}

	stats := c.Stats()
	if stats.Renders != 1 {
		t.Errorf("Renders = %d, want 1 (second call must hit)", stats.Renders)
	}
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
}

func TestStats_MissCountedOncePerRender(t *testing.T) {
	c := New(testOptions())
	agent := testAgent("engineer", "Do this: {{.task_description}}")
	filtered := map[string]string{contextfilter.KeyTaskDescription: "fix tests"}

	if _, err := c.GetOrRender(agent, filtered); err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if got := c.Stats().Misses; got != 1 {
		t.Errorf("Misses = %d, want 1 for a single uncached render", got)
	}

	if _, err := c.GetOrRender(agent, filtered); err != nil {
		t.Fatalf("second GetOrRender: %v", err)
	}
	stats := c.Stats()
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1 after a hit", stats.Misses)
	}
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
}

func TestGetOrRender_DifferentContextDifferentEntry(t *testing.T) {
	c := New(testOptions())
	agent := testAgent("engineer", "Task: {{.task_description}}")

	a, _ := c.GetOrRender(agent, map[string]string{contextfilter.KeyTaskDescription: "a"})
	b, _ := c.GetOrRender(agent, map[string]string{contextfilter.KeyTaskDescription: "b"})

	if a == b {
		t.Error("different contexts must render differently")
	}
	if c.Stats().Renders != 2 {
		t.Errorf("Renders = %d, want 2", c.Stats().Renders)
	}
}

func TestGetOrRender_RenderError(t *testing.T) {
	c := New(testOptions())
	agent := testAgent("broken", "{{.task_description") // unterminated action

	_, err := c.GetOrRender(agent, map[string]string{contextfilter.KeyTaskDescription: "x"})
	if err == nil {
		t.Fatal("expected render error")
	}
	if !errors.Is(err, ErrRenderFailed) {
		t.Errorf("error = %v, want ErrRenderFailed", err)
	}
	if c.Stats().Entries != 0 {
		t.Error("failed render must not populate the cache")
	}
}

func TestCache_CapNeverExceeded(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               50,
		CriticalTargetFraction: 0.5,
	})

	// Three inserts of 20 bytes each against a 50-byte cap.
	c.insert("fp1", strings.Repeat("a", 20))
	c.insert("fp2", strings.Repeat("b", 20))
	c.insert("fp3", strings.Repeat("c", 20))

	stats := c.Stats()
	if stats.ResidentBytes > 50 {
		t.Errorf("ResidentBytes = %d, cap is 50", stats.ResidentBytes)
	}
	// fp1 is the least recently used of the first two and must be gone.
	if _, ok := c.lookup("fp1"); ok {
		t.Error("least-recently-used entry should have been evicted")
	}
	if _, ok := c.lookup("fp3"); !ok {
		t.Error("newest entry should survive")
	}
}

func TestCache_LRUOrderRespectsAccess(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               50,
		CriticalTargetFraction: 0.5,
	})

	c.insert("fp1", strings.Repeat("a", 20))
	c.insert("fp2", strings.Repeat("b", 20))

	// Touch fp1 so fp2 becomes the eviction candidate.
	if _, ok := c.lookup("fp1"); !ok {
		t.Fatal("fp1 should be cached")
	}

	c.insert("fp3", strings.Repeat("c", 20))

	if _, ok := c.lookup("fp2"); ok {
		t.Error("fp2 was least recently used and should be evicted")
	}
	if _, ok := c.lookup("fp1"); !ok {
		t.Error("recently-accessed fp1 should survive")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               1024,
		CriticalTargetFraction: 0.5,
	})

	now := time.Now()
	c.now = func() time.Time { return now }
	c.insert("fp", "payload")

	if _, ok := c.lookup("fp"); !ok {
		t.Fatal("entry should be live before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.lookup("fp"); ok {
		t.Error("entry should expire after TTL")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry should be removed on lookup")
	}
}

func TestReportPressure_WarningSweepsExpired(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               1024,
		CriticalTargetFraction: 0.5,
	})

	now := time.Now()
	c.now = func() time.Time { return now }
	c.insert("old", "aaaa")
	now = now.Add(2 * time.Minute)
	c.insert("new", "bbbb")

	c.ReportPressure(models.PressureWarning)

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1 (only unexpired survives)", stats.Entries)
	}
	if _, ok := c.lookup("new"); !ok {
		t.Error("unexpired entry should survive a warning sweep")
	}
}

func TestReportPressure_CriticalEvictsToTarget(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               100,
		CriticalTargetFraction: 0.5,
	})

	c.insert("fp1", strings.Repeat("a", 30))
	c.insert("fp2", strings.Repeat("b", 30))
	c.insert("fp3", strings.Repeat("c", 30))

	c.ReportPressure(models.PressureCritical)

	stats := c.Stats()
	if stats.ResidentBytes > 50 {
		t.Errorf("ResidentBytes = %d, want <= 50 after critical pressure", stats.ResidentBytes)
	}
	// Most recent entry survives; eviction is LRU-first.
	if _, ok := c.lookup("fp3"); !ok {
		t.Error("most recent entry should survive critical eviction")
	}
}

func TestReportPressure_NormalNoOp(t *testing.T) {
	c := New(testOptions())
	c.insert("fp", "payload")

	c.ReportPressure(models.PressureNormal)

	if c.Stats().Entries != 1 {
		t.Error("normal pressure must not evict")
	}
}

func TestGetOrRender_ConcurrentSingleRender(t *testing.T) {
	c := New(testOptions())
	agent := testAgent("engineer", "Task: {{.task_description}}")
	filtered := map[string]string{contextfilter.KeyTaskDescription: "concurrent"}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := c.GetOrRender(agent, filtered)
			if err != nil {
				t.Errorf("GetOrRender: %v", err)
				return
			}
			results[i] = payload
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != "Task: concurrent" {
			t.Errorf("payload = %q", r)
		}
	}
	if c.Stats().Entries != 1 {
		t.Errorf("Entries = %d, want exactly one converged entry", c.Stats().Entries)
	}
}

func TestCache_OversizedPayloadNotCached(t *testing.T) {
	c := New(Options{
		TTL:                    time.Minute,
		MaxBytes:               10,
		CriticalTargetFraction: 0.5,
	})

	c.insert("big", strings.Repeat("x", 100))

	if c.Stats().Entries != 0 {
		t.Error("payload larger than the cap must not be cached")
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("engineer", map[string]string{"k": "v"})
	b := Fingerprint("engineer", map[string]string{"k": "v"})
	if a != b {
		t.Error("fingerprint must be deterministic")
	}

	other := Fingerprint("reviewer", map[string]string{"k": "v"})
	if a == other {
		t.Error("different agents must fingerprint differently")
	}
}
