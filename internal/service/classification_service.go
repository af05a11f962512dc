package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	"github.com/anime-shed/image-classifier-go/internal/decoder"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/preprocess"
	"github.com/anime-shed/image-classifier-go/internal/ranker"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

// Pipeline stages, in execution order.
const (
	StageDecode     = "decode"
	StagePreprocess = "preprocess"
	StageInference  = "inference"
	StageRank       = "rank"
	StageEncode     = "encode"
)

// ImagePreprocessor turns a decoded image into the model input tensor.
type ImagePreprocessor interface {
	Preprocess(img image.Image) (*preprocess.Tensor, error)
}

// ClassificationService runs the decode, preprocess, score and rank pipeline
// for one image per call.
type ClassificationService interface {
	// Classify runs the pipeline on an image string (base64 or data URI).
	Classify(ctx context.Context, image string) (*ranker.Result, error)

	// Handle implements the invocation contract: it never returns an error,
	// failures are encoded in the response status code and body.
	Handle(ctx context.Context, event models.InvocationEvent) models.InvocationResponse

	// NumClasses is the width of the label table the service ranks against.
	NumClasses() int
}

type classificationService struct {
	preprocessor ImagePreprocessor
	scorer       classifier.Scorer
	labels       ranker.Resolver
	events       observer.Subject
	topK         int
}

// NewClassificationService creates the request handler. events may be nil.
func NewClassificationService(
	preprocessor ImagePreprocessor,
	scorer classifier.Scorer,
	labels ranker.Resolver,
	events observer.Subject,
) ClassificationService {
	return &classificationService{
		preprocessor: preprocessor,
		scorer:       scorer,
		labels:       labels,
		events:       events,
		topK:         ranker.DefaultK,
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that Handle reports in its events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the ID attached by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *classificationService) NumClasses() int {
	return s.labels.Len()
}

func (s *classificationService) Classify(ctx context.Context, image string) (*ranker.Result, error) {
	return s.classify(ctx, requestIDOrNew(ctx), image)
}

func (s *classificationService) Handle(ctx context.Context, event models.InvocationEvent) models.InvocationResponse {
	requestID := requestIDOrNew(ctx)
	start := time.Now()

	payload := ParsePayload(event.Body)
	s.publish(ctx, observer.ClassificationEvent{
		EventType: observer.ClassificationStarted,
		RequestID: requestID,
		Metadata: map[string]interface{}{
			"payload_kind":  payload.Kind.String(),
			"payload_bytes": len(payload.Image),
		},
	})

	result, err := s.classify(ctx, requestID, payload.Image)
	if err != nil {
		return errorResponse(err)
	}

	var body []byte
	err = s.runStage(ctx, requestID, StageEncode, func() error {
		var encErr error
		body, encErr = json.Marshal(result)
		if encErr != nil {
			return apperrors.NewInternalError("failed to encode prediction", encErr)
		}
		return nil
	})
	if err != nil {
		return errorResponse(err)
	}

	s.publish(ctx, observer.ClassificationEvent{
		EventType:      observer.ClassificationCompleted,
		RequestID:      requestID,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"prediction":  result.Prediction,
			"probability": result.Entries[0].Probability,
		},
	})

	return models.InvocationResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
	}
}

// classify moves one image through Received, Decoded, Preprocessed, Scored
// and Ranked. The first failing stage ends the request.
func (s *classificationService) classify(ctx context.Context, requestID, payload string) (*ranker.Result, error) {
	var (
		img    *image.RGBA
		tensor *preprocess.Tensor
		scores classifier.Scores
		result *ranker.Result
	)

	stages := []struct {
		name string
		run  func() error
	}{
		{StageDecode, func() (err error) {
			img, err = decoder.Decode(payload)
			return err
		}},
		{StagePreprocess, func() (err error) {
			tensor, err = s.preprocessor.Preprocess(img)
			return err
		}},
		{StageInference, func() (err error) {
			scores, err = s.scorer.Score(ctx, tensor)
			return err
		}},
		{StageRank, func() (err error) {
			result, err = ranker.TopK(scores, s.topK, s.labels)
			return err
		}},
	}

	for _, stage := range stages {
		if err := s.runStage(ctx, requestID, stage.name, stage.run); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// runStage checks the request context, runs fn and converts any error or
// panic into a staged AppError.
func (s *classificationService) runStage(ctx context.Context, requestID, stage string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("panic during %s", stage), fmt.Errorf("%v", r))
		}
		if err != nil {
			appErr := toAppError(err).WithStage(stage)
			s.publish(ctx, observer.ClassificationEvent{
				EventType:      observer.StageFailed,
				RequestID:      requestID,
				Stage:          stage,
				ProcessingTime: time.Since(start),
				ErrorType:      string(appErr.Type),
				ErrorMessage:   appErr.Error(),
			})
			err = appErr
			return
		}
		s.publish(ctx, observer.ClassificationEvent{
			EventType:      observer.StageCompleted,
			RequestID:      requestID,
			Stage:          stage,
			ProcessingTime: time.Since(start),
			Success:        true,
		})
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fn()
}

func (s *classificationService) publish(ctx context.Context, event observer.ClassificationEvent) {
	if s.events == nil {
		return
	}
	s.events.NotifyObservers(ctx, event)
}

// toAppError keeps an existing AppError, stage included, before falling back
// to the context errors it may wrap.
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("request deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewCanceledError("request canceled by caller", err)
	}
	return apperrors.NewInternalError("unexpected failure", err)
}

func errorResponse(err error) models.InvocationResponse {
	appErr := toAppError(err)
	body, marshalErr := json.Marshal(models.ErrorResponse{
		Error:   string(appErr.Type),
		Stage:   appErr.Stage,
		Message: appErr.Message,
	})
	if marshalErr != nil {
		body = []byte(`{"error":"internal"}`)
	}
	return models.InvocationResponse{
		StatusCode: appErr.StatusCode,
		Body:       string(body),
	}
}

func requestIDOrNew(ctx context.Context) string {
	if id := RequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
