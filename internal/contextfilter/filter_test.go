package contextfilter

import (
	"reflect"
	"testing"
)

func TestNarrow_UnknownTypeGetsMinimalFilter(t *testing.T) {
	f := New()
	bundle := map[string]string{
		KeyTaskDescription: "fix the bug",
		"codebase_notes":   "lots of notes",
		"secrets":          "hidden",
	}

	got := f.Narrow(bundle, "unknown-agent")

	want := map[string]string{KeyTaskDescription: "fix the bug"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Narrow = %v, want %v", got, want)
	}
}

func TestNarrow_AllowList(t *testing.T) {
	f := New()
	f.Register("engineer", Spec{Allow: []string{"codebase_notes", "style_guide"}})

	bundle := map[string]string{
		KeyTaskDescription: "implement feature",
		"codebase_notes":   "notes",
		"style_guide":      "guide",
		"secrets":          "hidden",
	}

	got := f.Narrow(bundle, "engineer")

	if _, ok := got["secrets"]; ok {
		t.Error("disallowed section leaked through the filter")
	}
	if got["codebase_notes"] != "notes" || got["style_guide"] != "guide" {
		t.Errorf("allowed sections missing: %v", got)
	}
	if got[KeyTaskDescription] != "implement feature" {
		t.Error("task description must always pass through")
	}
}

func TestNarrow_ByteBudget(t *testing.T) {
	f := New()
	f.Register("scout", Spec{
		Allow:    []string{"aaa", "bbb"},
		MaxBytes: 10,
	})

	bundle := map[string]string{
		KeyTaskDescription: "task", // 4 bytes
		"aaa":              "12345",
		"bbb":              "67890",
	}

	got := f.Narrow(bundle, "scout")

	// 4 + 5 = 9 fits; adding bbb would reach 14 > 10.
	if got["aaa"] != "12345" {
		t.Errorf("aaa should fit in budget: %v", got)
	}
	if _, ok := got["bbb"]; ok {
		t.Error("bbb should be dropped by the byte budget")
	}
}

func TestNarrow_Pure(t *testing.T) {
	f := New()
	f.Register("engineer", Spec{Allow: []string{"notes"}})

	bundle := map[string]string{
		KeyTaskDescription: "task",
		"notes":            "n",
	}

	first := f.Narrow(bundle, "engineer")
	second := f.Narrow(bundle, "engineer")

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must produce identical outputs")
	}
	if bundle["notes"] != "n" || len(bundle) != 2 {
		t.Error("input bundle must not be mutated")
	}
}

func TestMergeResult(t *testing.T) {
	bundle := map[string]string{KeyTaskDescription: "task"}

	merged := MergeResult(bundle, "scout", "scout findings")

	if merged[ResultKeyPrefix+"scout"] != "scout findings" {
		t.Errorf("merged result missing: %v", merged)
	}
	if len(bundle) != 1 {
		t.Error("MergeResult must not mutate the original bundle")
	}
}

func TestDigest_Stable(t *testing.T) {
	a := map[string]string{"x": "1", "y": "2"}
	b := map[string]string{"y": "2", "x": "1"}

	if Digest(a) != Digest(b) {
		t.Error("digest must be independent of map iteration order")
	}
}

func TestDigest_Distinguishes(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]string
	}{
		{"different values", map[string]string{"x": "1"}, map[string]string{"x": "2"}},
		{"different keys", map[string]string{"x": "1"}, map[string]string{"y": "1"}},
		{"concatenation shift", map[string]string{"ab": "c"}, map[string]string{"a": "bc"}},
	}

	for _, tt := range tests {
		if Digest(tt.a) == Digest(tt.b) {
			t.Errorf("%s: digests should differ", tt.name)
		}
	}
}
