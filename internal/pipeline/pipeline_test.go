package pipeline

import (
	"testing"

	xerrors "OpenAgent-Chain/internal/errors"
)

func TestNewRejectsEmptyPipeline(t *testing.T) {
	if _, err := New("empty"); xerrors.CodeOf(err) != xerrors.CodeInvalidPipeline {
		t.Fatalf("expected INVALID_PIPELINE, got %v", err)
	}
}

func TestNewRejectsDuplicateStageNames(t *testing.T) {
	_, err := New("dup",
		Descriptor{Name: "fetch"},
		Descriptor{Name: "fetch"},
	)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidPipeline {
		t.Fatalf("expected INVALID_PIPELINE, got %v", err)
	}
}

func TestNewRejectsDuplicateOutputKeys(t *testing.T) {
	_, err := New("dup-key",
		Descriptor{Name: "a", OutputKey: "profile"},
		Descriptor{Name: "b", OutputKey: "profile"},
	)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidPipeline {
		t.Fatalf("expected INVALID_PIPELINE, got %v", err)
	}
	if e, _ := xerrors.From(err); e.MetadataValue("output_key") != "profile" {
		t.Fatalf("expected conflicting key in metadata, got %v", e.Metadata())
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("bad-kind", Descriptor{Name: "a", Kind: "router"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidPipeline {
		t.Fatalf("expected INVALID_PIPELINE, got %v", err)
	}
}

func TestNewDefaultsKindToProducer(t *testing.T) {
	p, err := New("defaults", Descriptor{Name: "fetch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Stages()[0].Kind; got != KindProducer {
		t.Fatalf("unexpected kind: %s", got)
	}
}

func TestStagesReturnsCopy(t *testing.T) {
	p := MustNew("copy", Descriptor{Name: "fetch", OutputKey: "profile"})
	stages := p.Stages()
	stages[0].Name = "mutated"
	if p.Stages()[0].Name != "fetch" {
		t.Fatalf("pipeline definition must be immutable")
	}
}
