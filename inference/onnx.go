package inference

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"sn-classify/faults"
	"sn-classify/utils"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the shared ONNX Runtime environment. The library
// path can be overridden with ORT_DLL for non-standard installs.
func initRuntime() error {
	ortInitOnce.Do(func() {
		if path := utils.GetEnv("ORT_DLL", ""); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return faults.Wrap(faults.Configuration, ortInitErr, "failed to initialize onnx runtime")
	}
	return nil
}

// ONNXBackend runs a model file through ONNX Runtime. Sessions are not
// reentrant, so Run serializes executions with a mutex.
type ONNXBackend struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	modelPath  string
	outputSize int64
	closed     bool
}

// NewONNXBackend loads a model file and prepares a session for it. The
// output is expected to be a single [1, outputSize] score vector.
func NewONNXBackend(modelPath, inputName, outputName string, outputSize int) (*ONNXBackend, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to load model %s", modelPath)
	}

	return &ONNXBackend{
		session:    session,
		modelPath:  modelPath,
		outputSize: int64(outputSize),
	}, nil
}

// Run executes the model on one input vector.
func (b *ONNXBackend) Run(ctx context.Context, input []float32, shape []int64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "inference canceled")
	}

	var want int64 = 1
	for _, d := range shape {
		want *= d
	}
	if int64(len(input)) != want {
		return nil, faults.New(faults.Validation,
			"input has %d values but shape %v requires %d", len(input), shape, want)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, faults.New(faults.Pipeline, "backend for %s is closed", b.modelPath)
	}

	inTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "failed to create input tensor")
	}
	defer inTensor.Destroy()

	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, b.outputSize))
	if err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "failed to create output tensor")
	}
	defer outTensor.Destroy()

	if err := b.session.Run([]ort.Value{inTensor}, []ort.Value{outTensor}); err != nil {
		return nil, faults.Wrap(faults.Pipeline, err, "model execution failed for %s", b.modelPath)
	}

	scores := make([]float32, b.outputSize)
	copy(scores, outTensor.GetData())
	return scores, nil
}

// Close destroys the session. Further Run calls fail.
func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.session.Destroy(); err != nil {
		return faults.Wrap(faults.Pipeline, err, "failed to destroy session for %s", b.modelPath)
	}
	return nil
}
