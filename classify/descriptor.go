package classify

import (
	"fmt"

	"sn-classify/faults"
	"sn-classify/inference"
)

// ModelKind distinguishes the built-in model families from user uploads.
type ModelKind string

const (
	KindDash        ModelKind = "dash"
	KindTransformer ModelKind = "transformer"
	KindUser        ModelKind = "user"
)

// ModelDescriptor binds a model identifier to its backend, the input shapes
// it accepts and the class labels its output maps to. Most models accept a
// single shape; multi-resolution models declare one shape per resolution.
type ModelDescriptor struct {
	ID          string
	Kind        ModelKind
	InputShapes [][]int64
	Classes     []string

	// EmitsProbabilities marks models whose output is already a
	// probability distribution. Raw logits get a softmax instead.
	EmitsProbabilities bool

	backend inference.Backend
}

// NewDescriptor validates and builds a model descriptor. The backend output
// size must match the class mapping exactly.
func NewDescriptor(id string, kind ModelKind, backend inference.Backend, inputShapes [][]int64, classes []string) (*ModelDescriptor, error) {
	if id == "" {
		return nil, faults.New(faults.Validation, "model id is required")
	}
	if backend == nil {
		return nil, faults.New(faults.Configuration, "model %s has no backend", id)
	}
	if len(inputShapes) == 0 {
		return nil, faults.New(faults.Configuration, "model %s has no input shape", id)
	}
	for _, shape := range inputShapes {
		if len(shape) == 0 {
			return nil, faults.New(faults.Configuration, "model %s has an empty input shape", id)
		}
		for _, d := range shape {
			if d <= 0 {
				return nil, faults.New(faults.Configuration, "model %s has invalid input shape %v", id, shape)
			}
		}
	}
	if len(classes) == 0 {
		return nil, faults.New(faults.Validation, "model %s has an empty class mapping", id)
	}

	return &ModelDescriptor{
		ID:          id,
		Kind:        kind,
		InputShapes: inputShapes,
		Classes:     classes,
		backend:     backend,
	}, nil
}

// ValidateOutputSize checks a declared model output length against the class
// mapping before the descriptor is published.
func (d *ModelDescriptor) ValidateOutputSize(outputSize int) error {
	if outputSize != len(d.Classes) {
		return faults.New(faults.Validation,
			"model output shape [1 %d] does not match class mapping size %d",
			outputSize, len(d.Classes))
	}
	return nil
}

// ShapeFor returns the first accepted shape whose flat element count equals
// inputLen. The second return value is false when no shape matches.
func (d *ModelDescriptor) ShapeFor(inputLen int) ([]int64, bool) {
	for _, shape := range d.InputShapes {
		n := int64(1)
		for _, dim := range shape {
			n *= dim
		}
		if int(n) == inputLen {
			return shape, true
		}
	}
	return nil, false
}

// Backend returns the inference backend of the model.
func (d *ModelDescriptor) Backend() inference.Backend { return d.backend }

// Close releases the backend.
func (d *ModelDescriptor) Close() error { return d.backend.Close() }

func (d *ModelDescriptor) String() string {
	return fmt.Sprintf("%s (%s, %d classes)", d.ID, d.Kind, len(d.Classes))
}
