package session

import "testing"

func TestAbsentKeyDistinctFromNil(t *testing.T) {
	s := New()
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("missing key must report absent")
	}
	s.Set("empty", nil)
	value, ok := s.Get("empty")
	if !ok {
		t.Fatalf("stored nil must report present")
	}
	if value != nil {
		t.Fatalf("unexpected value: %v", value)
	}
	if !s.Has("empty") || s.Has("missing") {
		t.Fatalf("Has disagrees with Get")
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.Set("profile", map[string]any{"name": "Alice"})
	s.Remove("profile")
	if s.Has("profile") {
		t.Fatalf("key survived removal")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	s.Set("profile", map[string]any{
		"name":   "Alice Johnson",
		"skills": []any{"Python", "NLP"},
	})

	snapshot := s.Snapshot()
	nested := snapshot["profile"].(map[string]any)
	nested["name"] = "mutated"
	nested["skills"].([]any)[0] = "mutated"

	stored, _ := s.Get("profile")
	got := stored.(map[string]any)
	if got["name"] != "Alice Johnson" {
		t.Fatalf("snapshot mutation leaked into state: %v", got["name"])
	}
	if got["skills"].([]any)[0] != "Python" {
		t.Fatalf("snapshot mutation leaked into nested slice")
	}
}

func TestSessionIDsUnique(t *testing.T) {
	if New().ID() == New().ID() {
		t.Fatalf("session IDs must be unique per execution")
	}
}

func TestKeysSorted(t *testing.T) {
	s := New()
	s.Set("b", 1)
	s.Set("a", 2)
	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
