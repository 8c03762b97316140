package classify

import (
	"context"
	"math"
	"strings"
	"testing"

	"sn-classify/faults"
)

type fakeBackend struct {
	scores   []float32
	err      error
	gotShape []int64
}

func (f *fakeBackend) Run(ctx context.Context, input []float32, shape []int64) ([]float32, error) {
	f.gotShape = shape
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func (f *fakeBackend) Close() error { return nil }

func testRegistry(t *testing.T, scores []float32, classes []string) *Registry {
	t.Helper()
	descriptor, err := NewDescriptor("dash", KindDash, &fakeBackend{scores: scores}, [][]int64{{1, 4}}, classes)
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}
	registry, err := NewRegistry(descriptor)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func TestDispatchRanksClasses(t *testing.T) {
	t.Parallel()

	registry := testRegistry(t, []float32{0.2, 2.5, -1.0},
		[]string{"Ia: 2 to 6", "II: -2 to 2", "Ib: 2 to 6"})
	dispatcher := NewDispatcher(registry)

	matches, err := dispatcher.Dispatch(context.Background(), "dash", make([]float32, 4))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].Type != "II" || matches[0].Age != "-2 to 2" {
		t.Fatalf("expected II (-2 to 2) first, got %s (%s)", matches[0].Type, matches[0].Age)
	}

	var sum float64
	for i, m := range matches {
		if i > 0 && m.Probability > matches[i-1].Probability {
			t.Fatal("matches are not sorted by descending probability")
		}
		sum += m.Probability
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("probabilities sum to %g, want 1", sum)
	}
}

func TestDispatchUnknownModel(t *testing.T) {
	t.Parallel()

	registry := testRegistry(t, []float32{1}, []string{"Ia"})
	dispatcher := NewDispatcher(registry)

	_, err := dispatcher.Dispatch(context.Background(), "nonexistent", make([]float32, 4))
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if !faults.IsKind(err, faults.NotFound) {
		t.Fatalf("expected not-found error, got: %v", err)
	}
}

func TestDispatchRejectsWrongInputLength(t *testing.T) {
	t.Parallel()

	registry := testRegistry(t, []float32{1}, []string{"Ia"})
	dispatcher := NewDispatcher(registry)

	_, err := dispatcher.Dispatch(context.Background(), "dash", make([]float32, 7))
	if err == nil {
		t.Fatal("expected error for mismatched input length")
	}
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "7") || !strings.Contains(err.Error(), "[1 4]") {
		t.Fatalf("error should name both the input length and the model shape, got: %v", err)
	}
}

func TestDispatchRejectsOutputClassMismatch(t *testing.T) {
	t.Parallel()

	registry := testRegistry(t, []float32{0.1, 0.2, 0.3, 0.4},
		[]string{"Ia", "Ib", "Ic", "II", "IIn"})
	dispatcher := NewDispatcher(registry)

	_, err := dispatcher.Dispatch(context.Background(), "dash", make([]float32, 4))
	if err == nil {
		t.Fatal("expected error for output/class-mapping mismatch")
	}
	if !faults.IsKind(err, faults.Configuration) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
	want := "model output shape [1 4] does not match class mapping size 5"
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should contain %q", err.Error(), want)
	}
}

func TestDispatchRenormalizesDeclaredProbabilities(t *testing.T) {
	t.Parallel()

	descriptor, err := NewDescriptor("transformer", KindTransformer,
		&fakeBackend{scores: []float32{0.2, 0.6}}, [][]int64{{1, 4}}, []string{"Ia", "II"})
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}
	descriptor.EmitsProbabilities = true

	registry, err := NewRegistry(descriptor)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	matches, err := NewDispatcher(registry).Dispatch(context.Background(), "transformer", make([]float32, 4))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if math.Abs(matches[0].Probability-0.75) > 1e-6 {
		t.Fatalf("expected renormalized probability 0.75, got %g", matches[0].Probability)
	}
}

func TestDispatchSelectsMatchingInputShape(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{scores: []float32{0.7, 0.3}}
	descriptor, err := NewDescriptor("multi", KindUser, backend,
		[][]int64{{1, 4}, {1, 8}}, []string{"Ia", "II"})
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}
	registry, err := NewRegistry(descriptor)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	dispatcher := NewDispatcher(registry)

	if _, err := dispatcher.Dispatch(context.Background(), "multi", make([]float32, 8)); err != nil {
		t.Fatalf("dispatch with second accepted shape failed: %v", err)
	}
	if len(backend.gotShape) != 2 || backend.gotShape[0] != 1 || backend.gotShape[1] != 8 {
		t.Fatalf("backend ran with shape %v, want [1 8]", backend.gotShape)
	}

	_, err = dispatcher.Dispatch(context.Background(), "multi", make([]float32, 6))
	if err == nil {
		t.Fatal("expected error for input matching no accepted shape")
	}
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "6") || !strings.Contains(err.Error(), "[1 4]") ||
		!strings.Contains(err.Error(), "[1 8]") {
		t.Fatalf("error should name the input length and every accepted shape, got: %v", err)
	}
}

func TestRegistryPublishAndConflicts(t *testing.T) {
	t.Parallel()

	registry := testRegistry(t, []float32{1}, []string{"Ia"})

	user, err := NewDescriptor("my-model", KindUser, &fakeBackend{scores: []float32{1, 2}},
		[][]int64{{1, 4}}, []string{"Ia", "II"})
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}

	if err := registry.Publish(user); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, err := registry.Get("my-model"); err != nil {
		t.Fatalf("published model not resolvable: %v", err)
	}

	if err := registry.Publish(user); err == nil {
		t.Fatal("expected conflict for duplicate publish")
	} else if !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("expected conflict error, got: %v", err)
	}

	clash, err := NewDescriptor("dash", KindUser, &fakeBackend{scores: []float32{1}},
		[][]int64{{1, 4}}, []string{"Ia"})
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}
	if err := registry.Publish(clash); err == nil {
		t.Fatal("expected conflict for built-in model id")
	}

	list := registry.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 models, got %d", len(list))
	}
	if list[0].ID != "dash" || list[1].ID != "my-model" {
		t.Fatalf("unexpected list order: %s, %s", list[0].ID, list[1].ID)
	}
}

func TestDescriptorValidateOutputSize(t *testing.T) {
	t.Parallel()

	descriptor, err := NewDescriptor("m", KindUser, &fakeBackend{}, [][]int64{{1, 4}},
		[]string{"Ia", "Ib", "Ic", "II", "IIn"})
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}

	if err := descriptor.ValidateOutputSize(5); err != nil {
		t.Fatalf("matching output size rejected: %v", err)
	}

	err = descriptor.ValidateOutputSize(4)
	if err == nil {
		t.Fatal("expected error for mismatched output size")
	}
	want := "model output shape [1 4] does not match class mapping size 5"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
