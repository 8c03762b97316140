package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"sn-classify/faults"
)

// RemoteBackend delegates inference to an external model-serving HTTP
// service. Used for models too heavy to run in-process.
type RemoteBackend struct {
	serviceURL string
	client     *http.Client
}

type inferenceRequest struct {
	Input []float32 `json:"input"`
	Shape []int64   `json:"shape"`
}

type inferenceResponse struct {
	Output []float32 `json:"output"`
}

// NewRemoteBackend creates a client for a model-serving endpoint.
func NewRemoteBackend(serviceURL string) *RemoteBackend {
	if serviceURL == "" {
		serviceURL = "http://localhost:5002"
	}

	return &RemoteBackend{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck verifies the model service is running.
func (rb *RemoteBackend) HealthCheck() error {
	resp, err := rb.client.Get(rb.serviceURL + "/health")
	if err != nil {
		return faults.Wrap(faults.ExternalService, err, "model service not reachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.New(faults.ExternalService, "model service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Run sends the input vector to the service and returns its output scores.
func (rb *RemoteBackend) Run(ctx context.Context, input []float32, shape []int64) ([]float32, error) {
	payload, err := json.Marshal(inferenceRequest{Input: input, Shape: shape})
	if err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "failed to encode inference request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rb.serviceURL+"/infer", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rb.client.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.ExternalService, err, "inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.ExternalService,
			"model service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, faults.Wrap(faults.ExternalService, err, "failed to decode response")
	}

	if len(result.Output) == 0 {
		return nil, faults.New(faults.ExternalService, "received empty model output")
	}

	return result.Output, nil
}

// Close is a no-op for the HTTP backend.
func (rb *RemoteBackend) Close() error { return nil }
