package classifier

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/preprocess"

	"github.com/sirupsen/logrus"
)

// ONNXOptions configures an ONNX Runtime backed model.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	NumClasses  int
	// PoolSize is the number of sessions that may evaluate concurrently.
	PoolSize int
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// ONNXModel evaluates an ONNX image classifier through a fixed pool of
// sessions. Each session owns its tensors; checkout from the pool serializes
// access to them.
type ONNXModel struct {
	pool       chan *onnxSession
	sessions   []*onnxSession
	inputName  string
	outputName string
	numClasses int
	ownsEnv    bool
	closeOnce  sync.Once
}

// NewONNXModel loads the model at opts.ModelPath. Any failure is a startup error.
func NewONNXModel(opts ONNXOptions) (*ONNXModel, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.NumClasses < 1 {
		return nil, apperrors.NewStartupError("number of classes must be positive", nil)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, apperrors.NewStartupError(fmt.Sprintf("weights file %s is not readable", opts.ModelPath), err)
	}

	m := &ONNXModel{numClasses: opts.NumClasses}
	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, apperrors.NewStartupError("failed to initialize ONNX Runtime environment", err)
		}
		m.ownsEnv = true
	}

	if err := m.inspect(opts.ModelPath); err != nil {
		m.Close()
		return nil, err
	}

	m.pool = make(chan *onnxSession, opts.PoolSize)
	for i := 0; i < opts.PoolSize; i++ {
		s, err := m.newSession(opts.ModelPath)
		if err != nil {
			m.Close()
			return nil, apperrors.NewStartupError("failed to create ONNX session", err)
		}
		m.sessions = append(m.sessions, s)
		m.pool <- s
	}

	logger.WithFields(logrus.Fields{
		"model":       opts.ModelPath,
		"input":       m.inputName,
		"output":      m.outputName,
		"num_classes": m.numClasses,
		"pool_size":   opts.PoolSize,
	}).Info("ONNX model loaded")
	return m, nil
}

// inspect checks the model graph against the expected (N,3,224,224) -> (N,classes) contract.
func (m *ONNXModel) inspect(path string) error {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return apperrors.NewStartupError("weights file is not a valid ONNX model", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return apperrors.NewStartupError(
			fmt.Sprintf("model must have exactly one input and one output, got %d and %d", len(inputs), len(outputs)), nil)
	}

	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return apperrors.NewStartupError("model input and output must be float32 tensors", nil)
	}
	if !matchesShape(in.Dimensions, []int64{1, 3, preprocess.InputSize, preprocess.InputSize}) {
		return apperrors.NewStartupError(fmt.Sprintf("model input %q has shape %v, expected [1 3 224 224]", in.Name, in.Dimensions), nil)
	}
	if !matchesShape(out.Dimensions, []int64{1, int64(m.numClasses)}) {
		return apperrors.NewStartupError(fmt.Sprintf("model output %q has shape %v, expected [1 %d]", out.Name, out.Dimensions, m.numClasses), nil)
	}

	m.inputName = in.Name
	m.outputName = out.Name
	return nil
}

// matchesShape accepts a dynamic (negative) batch dimension.
func matchesShape(got ort.Shape, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if i == 0 && got[i] < 0 {
			continue
		}
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func (m *ONNXModel) newSession(path string) (*onnxSession, error) {
	s := &onnxSession{}
	var err error

	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, preprocess.InputSize, preprocess.InputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.numClasses)))
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.session, err = ort.NewAdvancedSession(path,
		[]string{m.inputName}, []string{m.outputName},
		[]ort.ArbitraryTensor{s.input}, []ort.ArbitraryTensor{s.output},
		nil)
	if err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

// OutputSize is the number of classes the model scores.
func (m *ONNXModel) OutputSize() int {
	return m.numClasses
}

// Logits evaluates t. It blocks until a session is free or ctx is done.
func (m *ONNXModel) Logits(ctx context.Context, t *preprocess.Tensor) ([]float32, error) {
	var s *onnxSession
	select {
	case s = <-m.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.pool <- s }()

	in := s.input.GetData()
	if len(in) != len(t.Data) {
		return nil, apperrors.NewInferenceError(fmt.Sprintf("tensor has %d values, session expects %d", len(t.Data), len(in)), nil)
	}
	copy(in, t.Data)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, m.numClasses)
	copy(out, s.output.GetData())
	return out, nil
}

// Close destroys every session and, if this model created it, the runtime environment.
func (m *ONNXModel) Close() error {
	var err error
	m.closeOnce.Do(func() {
		for _, s := range m.sessions {
			s.destroy()
		}
		m.sessions = nil
		if m.ownsEnv {
			err = ort.DestroyEnvironment()
		}
	})
	return err
}
