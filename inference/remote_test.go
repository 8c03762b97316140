package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sn-classify/faults"
)

func TestRemoteBackendRun(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Input) != 4 {
			t.Errorf("expected 4 input values, got %d", len(req.Input))
		}
		json.NewEncoder(w).Encode(inferenceResponse{Output: []float32{0.1, 0.7, 0.2}})
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL)
	out, err := backend.Run(context.Background(), []float32{1, 2, 3, 4}, []int64{1, 4})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(out) != 3 || out[1] != 0.7 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestRemoteBackendServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL)
	_, err := backend.Run(context.Background(), []float32{1}, []int64{1, 1})
	if err == nil {
		t.Fatal("expected error for failing service")
	}
	if !faults.IsKind(err, faults.ExternalService) {
		t.Fatalf("expected external-service error, got: %v", err)
	}
}

func TestRemoteBackendEmptyOutput(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceResponse{})
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL)
	_, err := backend.Run(context.Background(), []float32{1}, []int64{1, 1})
	if err == nil {
		t.Fatal("expected error for empty model output")
	}
}
