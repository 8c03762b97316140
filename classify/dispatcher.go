package classify

import (
	"context"
	"math"
	"sort"

	"sn-classify/faults"
	"sn-classify/models"
)

// Dispatcher routes a prepared input vector to a model by identifier and
// turns raw output scores into a ranked probability list.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over a model registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry exposes the underlying model registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch resolves the model, validates the input against its declared
// shape, runs inference and ranks the class probabilities.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID string, input []float32) ([]models.ClassMatch, error) {
	descriptor, err := d.registry.Get(modelID)
	if err != nil {
		return nil, err
	}

	shape, ok := descriptor.ShapeFor(len(input))
	if !ok {
		return nil, faults.New(faults.Validation,
			"input vector length %d matches none of model %s input shapes %v",
			len(input), descriptor.ID, descriptor.InputShapes)
	}

	scores, err := descriptor.Backend().Run(ctx, input, shape)
	if err != nil {
		return nil, err
	}

	if len(scores) != len(descriptor.Classes) {
		return nil, faults.New(faults.Configuration,
			"model output shape [1 %d] does not match class mapping size %d",
			len(scores), len(descriptor.Classes))
	}

	probs := toProbabilities(scores, descriptor.EmitsProbabilities)

	matches := make([]models.ClassMatch, len(probs))
	for i, p := range probs {
		label, age := splitLabel(descriptor.Classes[i])
		matches[i] = models.ClassMatch{Type: label, Age: age, Probability: p}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Probability != matches[j].Probability {
			return matches[i].Probability > matches[j].Probability
		}
		if matches[i].Type != matches[j].Type {
			return matches[i].Type < matches[j].Type
		}
		return matches[i].Age < matches[j].Age
	})
	return matches, nil
}

// toProbabilities converts raw scores into a distribution summing to one.
// Logits go through a max-shifted softmax for numerical stability; declared
// probabilities are only renormalized.
func toProbabilities(scores []float32, alreadyProbabilities bool) []float64 {
	out := make([]float64, len(scores))

	if alreadyProbabilities {
		var sum float64
		for i, s := range scores {
			v := float64(s)
			if v < 0 || math.IsNaN(v) {
				v = 0
			}
			out[i] = v
			sum += v
		}
		if sum <= 0 {
			uniform := 1.0 / float64(len(out))
			for i := range out {
				out[i] = uniform
			}
			return out
		}
		for i := range out {
			out[i] /= sum
		}
		return out
	}

	max := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > max {
			max = float64(s)
		}
	}
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(float64(s) - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// splitLabel breaks a combined "type: age" class label into its parts.
// Labels without an age bin map to an empty age.
func splitLabel(label string) (string, string) {
	for i := 0; i < len(label)-1; i++ {
		if label[i] == ':' && label[i+1] == ' ' {
			return label[:i], label[i+2:]
		}
	}
	return label, ""
}
