package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stewardhq/steward/pkg/models"
)

// writeAgent writes an agent definition file into dir.
func writeAgent(t *testing.T, dir, name, body string) string {
	t.Helper()

	content := "---\nname: " + name + "\ncapabilities: [code]\n---\n" + body + "\n"
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}
	return path
}

// newTestRegistry builds a registry over three temp tier directories.
func newTestRegistry(t *testing.T) (*Registry, string, string, string) {
	t.Helper()

	project := t.TempDir()
	user := t.TempDir()
	system := t.TempDir()

	r := New([]TierDir{
		{Tier: models.TierProject, Path: project},
		{Tier: models.TierUser, Path: user},
		{Tier: models.TierSystem, Path: system},
	})
	r.SetWarnLog(func(format string, args ...interface{}) {})
	return r, project, user, system
}

func TestResolve_SystemOnly(t *testing.T) {
	r, _, _, system := newTestRegistry(t)
	writeAgent(t, system, "engineer", "System engineer instructions.")

	def, err := r.Resolve("engineer")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Tier != models.TierSystem {
		t.Errorf("Tier = %s, want system", def.Tier)
	}
	if def.Name != "engineer" {
		t.Errorf("Name = %q, want engineer", def.Name)
	}
}

func TestResolve_ProjectShadowsSystem(t *testing.T) {
	r, project, _, system := newTestRegistry(t)
	writeAgent(t, system, "qa", "System QA instructions.")
	writeAgent(t, project, "qa", "Project QA instructions.")

	def, err := r.Resolve("qa")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Tier != models.TierProject {
		t.Errorf("Tier = %s, want project", def.Tier)
	}
	if def.InstructionTemplate != "Project QA instructions." {
		t.Errorf("InstructionTemplate = %q", def.InstructionTemplate)
	}
}

func TestResolve_UserShadowsSystem(t *testing.T) {
	r, _, user, system := newTestRegistry(t)
	writeAgent(t, system, "reviewer", "System reviewer.")
	writeAgent(t, user, "reviewer", "User reviewer.")

	def, err := r.Resolve("reviewer")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Tier != models.TierUser {
		t.Errorf("Tier = %s, want user", def.Tier)
	}
}

func TestResolve_NotFound(t *testing.T) {
	r, _, _, system := newTestRegistry(t)
	writeAgent(t, system, "engineer", "Engineer.")

	_, err := r.Resolve("nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("error = %v, want ErrAgentNotFound", err)
	}
}

func TestResolve_MalformedSkipped(t *testing.T) {
	r, project, _, _ := newTestRegistry(t)

	// Missing name field.
	bad := filepath.Join(project, "broken.md")
	if err := os.WriteFile(bad, []byte("---\ncapabilities: [x]\n---\nbody\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeAgent(t, project, "good", "Good agent.")

	var warned bool
	r.SetWarnLog(func(format string, args ...interface{}) { warned = true })

	defs, err := r.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "good" {
		t.Errorf("Name = %q, want good", defs[0].Name)
	}
	if !warned {
		t.Error("malformed definition should emit a warning")
	}
}

func TestListAll_Ordered(t *testing.T) {
	r, project, _, system := newTestRegistry(t)
	writeAgent(t, system, "zeta", "Z.")
	writeAgent(t, project, "alpha", "A.")
	writeAgent(t, project, "mid", "M.")

	defs, err := r.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}

	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if defs[i].Name != w {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, w)
		}
	}
}

func TestParseCache_SkipsUnchangedFiles(t *testing.T) {
	r, project, _, _ := newTestRegistry(t)
	path := writeAgent(t, project, "engineer", "Engineer v1.")

	if _, err := r.Resolve("engineer"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if len(r.parseCache) != 1 {
		t.Fatalf("expected 1 cached parse, got %d", len(r.parseCache))
	}

	// Unchanged file: reload reuses the cached parse.
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(r.parseCache) != 1 {
		t.Errorf("unchanged file should not add cache entries, got %d", len(r.parseCache))
	}

	// Changed content with a bumped mtime forces a re-parse.
	content := "---\nname: engineer\n---\nEngineer v2.\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := r.Reload(); err != nil {
		t.Fatalf("reload after change: %v", err)
	}
	def, err := r.Resolve("engineer")
	if err != nil {
		t.Fatalf("resolve after change: %v", err)
	}
	if def.InstructionTemplate != "Engineer v2." {
		t.Errorf("InstructionTemplate = %q, want updated body", def.InstructionTemplate)
	}
	if len(r.parseCache) != 2 {
		t.Errorf("expected 2 cached parses after change, got %d", len(r.parseCache))
	}
}

func TestInvalidate_TriggersRescan(t *testing.T) {
	r, project, _, _ := newTestRegistry(t)
	writeAgent(t, project, "one", "One.")

	if _, err := r.Resolve("one"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// New file is invisible until invalidation.
	writeAgent(t, project, "two", "Two.")
	if _, err := r.Resolve("two"); err == nil {
		t.Error("new file should not be visible before invalidation")
	}

	r.Invalidate()
	if _, err := r.Resolve("two"); err != nil {
		t.Errorf("resolve after invalidate: %v", err)
	}
}

func TestWatch_NewFileVisibleWithoutInvalidate(t *testing.T) {
	r, project, _, _ := newTestRegistry(t)
	defer r.Close()
	writeAgent(t, project, "one", "One.")

	if err := r.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := r.Resolve("one"); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	// A file created after the first load becomes resolvable once the
	// watcher delivers the event; no manual Invalidate.
	writeAgent(t, project, "two", "Two.")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := r.Resolve("two"); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("new definition never became resolvable via the watcher")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseFile_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "writer.md")
	content := "---\nname: writer\n---\nWrite things: {{.task_description}}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	def, err := ParseFile(path, models.TierUser, time.Now())
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if def.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want default 1", def.SchemaVersion)
	}
	if def.Tier != models.TierUser {
		t.Errorf("Tier = %s, want user", def.Tier)
	}
}

func TestParseFile_Unterminated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.md")
	if err := os.WriteFile(path, []byte("---\nname: bad\nno closing delimiter\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ParseFile(path, models.TierUser, time.Now()); err == nil {
		t.Error("expected error for unterminated frontmatter")
	}
}

func TestRegistry_MissingDirsSkipped(t *testing.T) {
	r := New([]TierDir{
		{Tier: models.TierProject, Path: "/nonexistent/project"},
		{Tier: models.TierSystem, Path: "/nonexistent/system"},
	})
	r.SetWarnLog(func(format string, args ...interface{}) {})

	defs, err := r.ListAll()
	if err != nil {
		t.Fatalf("ListAll over missing dirs: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("expected empty registry, got %d", len(defs))
	}
}
