package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/schema"
)

// stubExecutor 以固定输出响应每个阶段，并记录调用顺序。
type stubExecutor struct {
	mu      sync.Mutex
	outputs map[string]any
	errs    map[string]error
	calls   []string
}

func (s *stubExecutor) ExecuteStage(_ context.Context, stage Descriptor, _ string, _ map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, stage.Name)
	s.mu.Unlock()
	if err := s.errs[stage.Name]; err != nil {
		return nil, err
	}
	return s.outputs[stage.Name], nil
}

func profileSchema() *schema.Schema {
	return schema.New(map[string]schema.Field{
		"name":  {Type: schema.TypeString, Required: true},
		"email": {Type: schema.TypeString, Required: true},
	})
}

func profilePipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New("user_profile",
		Descriptor{
			Name:         "fetch",
			Kind:         KindProducer,
			OutputKey:    "profile",
			OutputSchema: profileSchema(),
		},
		Descriptor{
			Name:              "present",
			Kind:              KindPresenter,
			RequiredStateKeys: []string{"profile"},
		},
	)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	return p
}

func TestRunCompletes(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{
		"fetch":   map[string]any{"name": "Alice Johnson", "email": "alice@x.com"},
		"present": "Here's what I found about Alice Johnson.",
	}}
	runner := NewRunner(exec)

	result, err := runner.Run(context.Background(), profilePipeline(t), "Tell me about Alice Johnson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "Here's what I found about Alice Johnson." {
		t.Fatalf("unexpected output: %v", result.Output)
	}
	profile, ok := result.State["profile"].(map[string]any)
	if !ok || profile["name"] != "Alice Johnson" {
		t.Fatalf("unexpected state: %v", result.State)
	}
	if len(result.State) != 1 {
		t.Fatalf("state must contain exactly the declared output keys: %v", result.State)
	}
	if !reflect.DeepEqual(exec.calls, []string{"fetch", "present"}) {
		t.Fatalf("stages must run in declared order exactly once: %v", exec.calls)
	}
	if result.SessionID == "" {
		t.Fatalf("session id missing")
	}
}

func TestRunMissingDependency(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{"present": "ignored"}}
	runner := NewRunner(exec)
	p := MustNew("present-only", Descriptor{
		Name:              "present",
		Kind:              KindPresenter,
		RequiredStateKeys: []string{"profile"},
	})

	_, err := runner.Run(context.Background(), p, "anything")
	if xerrors.CodeOf(err) != xerrors.CodeMissingDependency {
		t.Fatalf("expected MISSING_DEPENDENCY, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.MetadataValue("stage") != "present" || e.MetadataValue("key") != "profile" {
		t.Fatalf("unexpected metadata: %v", e.Metadata())
	}
	if len(exec.calls) != 0 {
		t.Fatalf("stage must not run when dependencies are missing: %v", exec.calls)
	}
}

func TestRunSchemaViolationKeepsPriorState(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{
		"fetch": map[string]any{"email": "alice@x.com"}, // name 缺失
	}}
	runner := NewRunner(exec)

	_, err := runner.Run(context.Background(), profilePipeline(t), "Tell me about Alice Johnson")
	if xerrors.CodeOf(err) != xerrors.CodeSchemaViolation {
		t.Fatalf("expected SCHEMA_VIOLATION, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.MetadataValue("stage") != "fetch" || e.MetadataValue("field") != "name" {
		t.Fatalf("unexpected metadata: %v", e.Metadata())
	}
	if FailedStage(err) != "fetch" {
		t.Fatalf("unexpected failed stage: %s", FailedStage(err))
	}
	if !reflect.DeepEqual(exec.calls, []string{"fetch"}) {
		t.Fatalf("later stages must not run: %v", exec.calls)
	}
}

func TestRunFailureMidwayPreservesEarlierState(t *testing.T) {
	boom := errors.New("backend down")
	exec := &stubExecutor{
		outputs: map[string]any{
			"first": map[string]any{"name": "Alice Johnson", "email": "alice@x.com"},
		},
		errs: map[string]error{"second": boom},
	}
	p := MustNew("two-producers",
		Descriptor{Name: "first", OutputKey: "profile", OutputSchema: profileSchema()},
		Descriptor{Name: "second", OutputKey: "summary"},
	)

	_, err := NewRunner(exec).Run(context.Background(), p, "go")
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("expected EXECUTION_FAILURE, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause must be preserved: %v", err)
	}
	if FailedStage(err) != "second" {
		t.Fatalf("unexpected failed stage: %s", FailedStage(err))
	}
}

func TestRunDeterministic(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{
		"fetch":   map[string]any{"name": "Alice Johnson", "email": "alice@x.com"},
		"present": "summary",
	}}
	runner := NewRunner(exec)
	p := profilePipeline(t)

	first, err := runner.Run(context.Background(), p, "Tell me about Alice Johnson")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runner.Run(context.Background(), p, "Tell me about Alice Johnson")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.State, second.State) || first.Output != second.Output {
		t.Fatalf("two runs with fixed outputs must be identical")
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("independent runs must use separate sessions")
	}
}

func TestRunCancelledBeforeStage(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{"fetch": map[string]any{"name": "a", "email": "b"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(exec).Run(ctx, profilePipeline(t), "go")
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause must be context.Canceled: %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("no stage may run after cancellation: %v", exec.calls)
	}
}

func TestRunProducerWithoutSchemaStoresRaw(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{"note": "free form text"}}
	p := MustNew("raw", Descriptor{Name: "note", OutputKey: "note"})

	result, err := NewRunner(exec).Run(context.Background(), p, "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State["note"] != "free form text" {
		t.Fatalf("raw output must be stored as-is: %v", result.State)
	}
}

func TestRunSchemaRequiresObjectOutput(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{"fetch": "not an object"}}
	p := MustNew("scalar",
		Descriptor{Name: "fetch", OutputKey: "profile", OutputSchema: profileSchema()},
	)

	_, err := NewRunner(exec).Run(context.Background(), p, "go")
	if xerrors.CodeOf(err) != xerrors.CodeSchemaViolation {
		t.Fatalf("expected SCHEMA_VIOLATION, got %v", err)
	}
}

func TestServiceExecute(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]any{
		"fetch":   map[string]any{"name": "Alice Johnson", "email": "alice@x.com"},
		"present": "summary",
	}}
	svc := NewService(NewRunner(exec))
	if err := svc.Register(profilePipeline(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 空名称走默认流水线。
	result, err := svc.Execute(context.Background(), "", "Tell me about Alice Johnson")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "summary" {
		t.Fatalf("unexpected output: %v", result.Output)
	}

	if _, err := svc.Execute(context.Background(), "unknown", "x"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if _, err := svc.Execute(context.Background(), "", "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}
