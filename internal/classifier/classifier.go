// Package classifier wraps an opaque image model and turns its logits into
// a probability distribution.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/preprocess"
)

// Scores is a probability distribution over the model's classes.
type Scores []float64

// Model produces raw logits for one preprocessed image.
type Model interface {
	Logits(ctx context.Context, t *preprocess.Tensor) ([]float32, error)
	OutputSize() int
	Close() error
}

// Scorer maps an input tensor to class probabilities.
type Scorer interface {
	Score(ctx context.Context, t *preprocess.Tensor) (Scores, error)
	NumClasses() int
}

// Classifier validates inputs and outputs around a Model and applies softmax.
type Classifier struct {
	model Model
}

// New creates a classifier around model.
func New(model Model) *Classifier {
	return &Classifier{model: model}
}

// NumClasses is the width of every score vector.
func (c *Classifier) NumClasses() int {
	return c.model.OutputSize()
}

// Score runs the model and returns softmax probabilities.
func (c *Classifier) Score(ctx context.Context, t *preprocess.Tensor) (Scores, error) {
	if t == nil {
		return nil, apperrors.NewInferenceError("input tensor is nil", nil)
	}
	if t.Shape != preprocess.InputShape || len(t.Data) != t.Len() {
		return nil, apperrors.NewInferenceError(
			fmt.Sprintf("input tensor shape %v (%d values) does not match %v", t.Shape, len(t.Data), preprocess.InputShape), nil)
	}

	logits, err := c.model.Logits(ctx, t)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewInferenceError("model evaluation failed", err)
	}
	if len(logits) != c.model.OutputSize() {
		return nil, apperrors.NewInferenceError(
			fmt.Sprintf("model returned %d logits, expected %d", len(logits), c.model.OutputSize()), nil)
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, apperrors.NewInferenceError(fmt.Sprintf("model returned non-finite logit at index %d", i), nil)
		}
	}
	return Softmax(logits), nil
}

// Close releases the underlying model.
func (c *Classifier) Close() error {
	return c.model.Close()
}

// Softmax normalizes logits into probabilities, computed in float64 after
// subtracting the maximum.
func Softmax(logits []float32) Scores {
	if len(logits) == 0 {
		return Scores{}
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	out := make(Scores, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxLogit)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
