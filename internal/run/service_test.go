package run

import (
	"context"
	"testing"

	xerrors "OpenAgent-Chain/internal/errors"
)

func TestServiceSubmitValidatesInput(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	_, err := service.Submit(context.Background(), SubmitRequest{Input: "   "})
	if xerrors.CodeOf(err) != CodeRunValidation {
		t.Fatalf("expected validation error for blank input, got %v", err)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixed-id", Input: "alice"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixed-id", Input: "alice"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same run, got %s and %s", first.ID, second.ID)
	}
	if second.Status != StatusPending {
		t.Fatalf("unexpected status on resubmit: %s", second.Status)
	}
}
