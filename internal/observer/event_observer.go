package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// ClassificationEvent represents one step of a classification request
type ClassificationEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestID      string                 `json:"request_id"`
	Stage          string                 `json:"stage,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorType      string                 `json:"error_type,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of classification event
type EventType string

const (
	// ClassificationStarted when a request is received
	ClassificationStarted EventType = "classification_started"
	// StageCompleted when one pipeline stage finishes
	StageCompleted EventType = "stage_completed"
	// StageFailed when a pipeline stage returns an error
	StageFailed EventType = "stage_failed"
	// ClassificationCompleted when a prediction is returned
	ClassificationCompleted EventType = "classification_completed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event ClassificationEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ClassificationEvent)
}

// LoggingObserver logs classification events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// failureLevel logs server-side failures as errors and caller faults as warnings.
func failureLevel(errorType string) logrus.Level {
	switch apperrors.ErrorType(errorType) {
	case apperrors.ErrorTypeInternal, apperrors.ErrorTypeInference, apperrors.ErrorTypeLabelLookup:
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}

// OnEvent handles classification events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"request_id": event.RequestID,
	}
	if event.Stage != "" {
		fields["stage"] = event.Stage
	}
	if event.ProcessingTime > 0 {
		fields["processing_time_ms"] = float64(event.ProcessingTime.Microseconds()) / 1000
	}
	if event.ErrorMessage != "" {
		fields["error_type"] = event.ErrorType
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ClassificationStarted:
		entry.Debug("Classification started")
	case StageCompleted:
		entry.Debug("Stage completed")
	case StageFailed:
		entry.Log(failureLevel(event.ErrorType), "Stage failed")
	case ClassificationCompleted:
		entry.Info("Classification completed")
	default:
		entry.Info("Classification event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from classification events
type MetricsObserver struct {
	mu                    sync.RWMutex
	totalClassifications  int64
	successful            int64
	failed                int64
	failuresByType        map[string]int64
	failuresByStage       map[string]int64
	totalProcessingTime   time.Duration
	processingTimeByStage map[string]time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		failuresByType:        make(map[string]int64),
		failuresByStage:       make(map[string]int64),
		processingTimeByStage: make(map[string]time.Duration),
	}
}

// OnEvent handles classification events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ClassificationStarted:
		o.totalClassifications++
	case StageCompleted:
		o.processingTimeByStage[event.Stage] += event.ProcessingTime
	case StageFailed:
		o.failed++
		o.failuresByType[event.ErrorType]++
		o.failuresByStage[event.Stage]++
	case ClassificationCompleted:
		o.successful++
		o.totalProcessingTime += event.ProcessingTime
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successful > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successful)
	}

	byType := make(map[string]int64, len(o.failuresByType))
	for k, v := range o.failuresByType {
		byType[k] = v
	}
	byStage := make(map[string]int64, len(o.failuresByStage))
	for k, v := range o.failuresByStage {
		byStage[k] = v
	}
	stageTimes := make(map[string]float64, len(o.processingTimeByStage))
	for k, v := range o.processingTimeByStage {
		stageTimes[k] = float64(v.Microseconds()) / 1000
	}

	return map[string]interface{}{
		"total_classifications":   o.totalClassifications,
		"successful":              o.successful,
		"failed":                  o.failed,
		"failures_by_type":        byType,
		"failures_by_stage":       byStage,
		"total_processing_ms":     float64(o.totalProcessingTime.Microseconds()) / 1000,
		"avg_processing_ms":       float64(avgProcessingTime.Microseconds()) / 1000,
		"stage_processing_ms_sum": stageTimes,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer in subscription order.
// Observers run on the caller's goroutine so counters are current by the time
// the response is written.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event ClassificationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event ClassificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the application
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
