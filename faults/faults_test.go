package faults

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	t.Parallel()

	err := New(Validation, "smoothing must be >= 0, got %d", -3)
	if err.Error() != "smoothing must be >= 0, got -3" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	kind, ok := KindOf(err)
	if !ok || kind != Validation {
		t.Fatalf("expected validation kind, got %v (ok=%v)", kind, ok)
	}
	if !IsKind(err, Validation) {
		t.Fatal("IsKind should report the carried kind")
	}
	if IsKind(err, NotFound) {
		t.Fatal("IsKind should reject other kinds")
	}
}

func TestWrapKeepsCauseChain(t *testing.T) {
	t.Parallel()

	err := Wrap(ExternalService, io.ErrUnexpectedEOF, "inference backend failed")

	if got := err.Error(); got != "inference backend failed: unexpected EOF" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("wrapped cause should survive errors.Is")
	}
	if !IsKind(err, ExternalService) {
		t.Fatalf("expected external-service kind, got: %v", err)
	}
}

func TestKindSurvivesForeignWrapping(t *testing.T) {
	t.Parallel()

	inner := New(NotFound, "no template for type %q", "IIn")
	outer := fmt.Errorf("loading corpus: %w", inner)

	if !IsKind(outer, NotFound) {
		t.Fatal("kind should be recoverable through fmt.Errorf wrapping")
	}
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("plain errors carry no classification")
	}
	if IsKind(nil, Pipeline) {
		t.Fatal("nil carries no classification")
	}
}

func TestKindStrings(t *testing.T) {
	t.Parallel()

	names := map[Kind]string{
		Format:          "format",
		Validation:      "validation",
		NotFound:        "not-found",
		Conflict:        "conflict",
		Pipeline:        "pipeline",
		Configuration:   "configuration",
		ExternalService: "external-service",
	}
	for kind, want := range names {
		if kind.String() != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
