package profile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OpenAgent-Chain/internal/pipeline"
)

func TestDirectoryLookupByName(t *testing.T) {
	dir := NewBuiltinDirectory()
	got := dir.Lookup("Tell me about Alice Johnson")
	if got.UserID != "U001" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestDirectoryLookupByID(t *testing.T) {
	dir := NewBuiltinDirectory()
	if got := dir.Lookup("who is u003?"); got.Name != "Carol Martinez" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestDirectoryLookupUnknown(t *testing.T) {
	dir := NewBuiltinDirectory()
	if got := dir.Lookup("Tell me about Zelda"); got.UserID != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN fallback, got %+v", got)
	}
}

func TestLoadDirectory(t *testing.T) {
	entries := []Profile{{
		UserID: "U100", Name: "Eve Doe", Email: "eve@x.com", Role: "Engineer",
		Department: "Core", Skills: []string{"Go"}, Projects: []string{"Gateway"},
		Status: "active", JoinedDate: "2024-01-01", LastLogin: "2025-01-01T00:00:00Z",
	}}
	encoded, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dir, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if dir.Size() != 1 || dir.Lookup("eve doe").UserID != "U100" {
		t.Fatalf("loaded directory broken")
	}
}

func TestFetchOutputSatisfiesSchema(t *testing.T) {
	state := NewBuiltinDirectory().Lookup("bob smith").AsState()
	if err := Schema().Validate(state); err != nil {
		t.Fatalf("builtin profile must satisfy its own schema: %v", err)
	}
}

func TestPipelineEndToEndOffline(t *testing.T) {
	runner := pipeline.NewRunner(NewExecutor(nil))
	result, err := runner.Run(context.Background(), NewPipeline(), "Tell me about Alice Johnson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output, ok := result.Output.(string)
	if !ok || !strings.Contains(output, "Alice Johnson") {
		t.Fatalf("unexpected output: %v", result.Output)
	}
	stored, ok := result.State[StateKey].(map[string]any)
	if !ok || stored["email"] != "alice.johnson@techcorp.com" {
		t.Fatalf("unexpected state: %v", result.State)
	}
	if !strings.Contains(output, "**Skills:**") {
		t.Fatalf("presentation must contain sections:\n%s", output)
	}
}

func TestRenderHandlesMissingFields(t *testing.T) {
	text := Render(map[string]any{})
	if !strings.Contains(text, "N/A") {
		t.Fatalf("missing fields must render as N/A:\n%s", text)
	}
}
