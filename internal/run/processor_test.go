package run

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/observability/alerting"
	"OpenAgent-Chain/internal/pipeline"
)

type captureDispatcher struct {
	events chan alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events <- event
	return nil
}

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeExecutor) Execute(ctx context.Context, pipelineName, input string) (*pipeline.Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.processed.Add(1)
	return &pipeline.Result{
		Output:    "greeting for " + input,
		State:     map[string]any{"fetched_profile": map[string]any{"name": input}},
		SessionID: "session-" + input,
		Stages:    []string{"fetch", "present"},
	}, nil
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		input := fmt.Sprintf("user-%d", i)
		if _, err := service.Submit(ctx, SubmitRequest{Input: input}); err != nil {
			t.Fatalf("提交运行失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("运行未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRecordsResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{Pipeline: "user_profile", Input: "alice"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("expected succeeded run, got %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil {
		t.Fatal("expected result to be recorded")
	}
	if done.Result.Output != "greeting for alice" {
		t.Fatalf("unexpected output: %q", done.Result.Output)
	}
	if done.Result.SessionID != "session-alice" {
		t.Fatalf("unexpected session id: %q", done.Result.SessionID)
	}
	if len(done.Result.Stages) != 2 || done.Result.Stages[0] != "fetch" {
		t.Fatalf("unexpected stages: %v", done.Result.Stages)
	}
	if _, ok := done.Result.FinalState["fetched_profile"]; !ok {
		t.Fatalf("expected final state to carry fetched profile: %v", done.Result.FinalState)
	}
}

func TestProcessorMarksTerminalFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	cause := xerrors.New(xerrors.CodeSchemaViolation, "stage fetch output rejected",
		xerrors.WithMetadata("stage", "fetch"))
	executor := &fakeExecutor{err: cause}
	alerts := &captureDispatcher{events: make(chan alerting.Event, 4)}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithAlertDispatcher(alerts),
	)

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{Pipeline: "user_profile", Input: "alice"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("expected failed run, got %s", done.Status)
	}
	if done.ErrorCode != string(xerrors.CodeSchemaViolation) {
		t.Fatalf("unexpected error code: %q", done.ErrorCode)
	}
	if done.FailedStage != "fetch" {
		t.Fatalf("unexpected failed stage: %q", done.FailedStage)
	}
	// 模式校验错误不可重试，终态后不应再被领取。
	if _, err := store.Claim(ctx, submitted.ID); !errors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected ErrRunExhausted on reclaim, got %v", err)
	}

	select {
	case event := <-alerts.events:
		if event.Code != xerrors.CodeSchemaViolation {
			t.Fatalf("unexpected alert code: %s", event.Code)
		}
		if event.RunID != submitted.ID || event.Pipeline != "user_profile" {
			t.Fatalf("unexpected alert event: %+v", event)
		}
		if event.Metadata["stage"] != "terminal" {
			t.Fatalf("expected terminal alert, got %q", event.Metadata["stage"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal failure to raise an alert")
	}
}

func TestProcessorAppliesRecoveryFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	cause := xerrors.New(xerrors.CodeMissingDependency, "state key missing")
	executor := &fakeExecutor{err: cause}

	recovery := recoveryFunc(func(_ context.Context, r *Run, _ error) (*Result, error) {
		return &Result{Output: "fallback for " + r.Input}, nil
	})

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithRecoveryHandler(recovery),
	)

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{Input: "bob"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("expected degraded success, got %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || done.Result.Output != "fallback for bob" {
		t.Fatalf("unexpected fallback result: %+v", done.Result)
	}
}

type recoveryFunc func(ctx context.Context, r *Run, cause error) (*Result, error)

func (f recoveryFunc) Recover(ctx context.Context, r *Run, cause error) (*Result, error) {
	return f(ctx, r, cause)
}
