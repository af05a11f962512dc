package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	"github.com/anime-shed/image-classifier-go/internal/config"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/factory"
	"github.com/anime-shed/image-classifier-go/internal/labels"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/preprocess"
	"github.com/anime-shed/image-classifier-go/internal/service"
	"github.com/anime-shed/image-classifier-go/internal/storage"
	"github.com/anime-shed/image-classifier-go/internal/transport"
)

// artifactFetchTimeout bounds the one-time download of weights and labels.
const artifactFetchTimeout = 10 * time.Minute

// ModelLoader opens the classifier model.
type ModelLoader func(opts classifier.ONNXOptions) (classifier.Model, error)

// Option customizes container construction.
type Option func(*Container)

// WithModelLoader replaces the ONNX Runtime loader.
func WithModelLoader(loader ModelLoader) Option {
	return func(c *Container) { c.loadModel = loader }
}

// Container holds all application dependencies.
// Everything in it is built once and is read-only afterwards.
type Container struct {
	config       *config.Config
	loadModel    ModelLoader
	labels       *labels.Table
	preprocessor *preprocess.Preprocessor
	model        classifier.Model
	metrics      *observer.MetricsObserver
	service      service.ClassificationService
	handler      http.Handler
}

func loadONNX(opts classifier.ONNXOptions) (classifier.Model, error) {
	m, err := classifier.NewONNXModel(opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewContainer creates a new dependency injection container. Every error it
// returns is a startup error; the caller must not serve requests.
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	c := &Container{config: cfg, loadModel: loadONNX}
	for _, opt := range opts {
		opt(c)
	}

	weightsPath, labelsPath, err := c.fetchArtifacts()
	if err != nil {
		return nil, err
	}

	// Build dependency graph
	table, err := labels.LoadFile(labelsPath)
	if err != nil {
		return nil, err
	}

	preprocessor, err := preprocess.NewPreprocessor(preprocess.Filter(cfg.ResizeFilter))
	if err != nil {
		return nil, apperrors.NewStartupError("invalid resize filter", err)
	}

	model, err := c.loadModel(classifier.ONNXOptions{
		ModelPath:   weightsPath,
		LibraryPath: cfg.OnnxRuntimeLib,
		NumClasses:  table.Len(),
		PoolSize:    cfg.InferencePoolSize,
	})
	if err != nil {
		return nil, err
	}
	if model.OutputSize() != table.Len() {
		model.Close()
		return nil, apperrors.NewStartupError(
			fmt.Sprintf("model outputs %d classes but label table has %d", model.OutputSize(), table.Len()), nil)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	svc := service.NewClassificationService(preprocessor, classifier.New(model), table, events)

	c.labels = table
	c.preprocessor = preprocessor
	c.model = model
	c.metrics = metrics
	c.service = svc
	c.handler = transport.NewHandler(svc, metrics, cfg)

	logger.WithFields(logrus.Fields{
		"weights":       weightsPath,
		"labels":        labelsPath,
		"num_classes":   table.Len(),
		"resize_filter": preprocessor.Filter(),
		"source":        cfg.WeightsSource,
	}).Info("Classifier runtime ready")

	return c, nil
}

// fetchArtifacts makes sure the weights and label table exist under ModelDir,
// downloading them first when the source is remote.
func (c *Container) fetchArtifacts() (weightsPath, labelsPath string, err error) {
	store, err := factory.NewStorageFactory(c.config).Storage()
	if err != nil {
		return "", "", apperrors.NewStartupError("failed to configure artifact storage", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), artifactFetchTimeout)
	defer cancel()

	paths := make([]string, 0, 2)
	for _, name := range []string{c.config.WeightsFile, c.config.LabelsFile} {
		start := time.Now()
		path, err := storage.Materialize(ctx, store, name, c.config.ModelDir)
		if err != nil {
			return "", "", apperrors.NewStartupError(fmt.Sprintf("artifact %s is unavailable", name), err)
		}
		logger.WithFields(logrus.Fields{
			"artifact":   name,
			"store":      store.Name(),
			"path":       path,
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Debug("Artifact ready")
		paths = append(paths, path)
	}
	return paths[0], paths[1], nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Service returns the request handler.
func (c *Container) Service() service.ClassificationService {
	return c.service
}

// Metrics returns the in-process counters.
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close releases the model sessions and the runtime environment.
func (c *Container) Close() error {
	if c.model == nil {
		return nil
	}
	return c.model.Close()
}
