package inference

import "context"

// Backend executes a classification model on a prepared input vector and
// returns the raw output scores. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Run executes the model. The input is row-major data matching the
	// given shape.
	Run(ctx context.Context, input []float32, shape []int64) ([]float32, error)

	// Close releases any resources held by the backend.
	Close() error
}
