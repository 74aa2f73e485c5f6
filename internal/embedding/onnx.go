//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/umt-belongings/hub/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXExtractor runs an image model with ONNX Runtime. The model takes a float32
// NCHW tensor [1, 3, S, S] and produces [1, D]. It requires CGO and the onnxruntime
// shared library.
type ONNXExtractor struct {
	session    *ort.AdvancedSession
	dimensions int
	inputSize  int
	maxPixels  int
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXExtractor loads the model at modelPath. InitializeEnvironment is called if not already done.
func NewONNXExtractor(cfg ONNXConfig) (*ONNXExtractor, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("onnx extractor: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	s := int64(cfg.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXExtractor{
		session:      session,
		dimensions:   cfg.Dimensions,
		inputSize:    cfg.InputSize,
		maxPixels:    cfg.MaxPixels,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Extract preprocesses image, runs the model and returns the L2-normalized output.
func (e *ONNXExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	px, err := Preprocess(image, e.inputSize, e.maxPixels)
	if err != nil {
		return nil, err
	}
	normalizeImageNet(px)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("%w: onnx session closed", ErrExtractorUnavailable)
	}
	copy(e.inputTensor.GetData(), px.Data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference: %v", ErrExtractionFailed, err)
	}

	out := make([]float32, e.dimensions)
	copy(out, e.outputTensor.GetData()[:e.dimensions])
	utils.NormalizeL2(out)
	return out, nil
}

// Dimensions returns the output vector length.
func (e *ONNXExtractor) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// normalizeImageNet applies the per-channel mean/std normalization most pretrained
// vision backbones expect.
func normalizeImageNet(px *Pixels) {
	for c := 0; c < 3; c++ {
		plane := px.Channel(c)
		for i := range plane {
			plane[i] = (plane[i] - imageNetMean[c]) / imageNetStd[c]
		}
	}
}
