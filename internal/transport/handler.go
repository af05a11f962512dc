package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-classifier-go/internal/config"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/service"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

// Version is reported by the health check.
const Version = "1.0.0"

// RequestIDHeader carries the per-request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// MetricsSource exposes in-process counters.
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

func NewHandler(svc service.ClassificationService, metrics MetricsSource, cfg *config.Config) http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{
		"Content-Type",
		"User-Agent",
		"Accept",
		RequestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{RequestIDHeader}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Add middleware
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		requestID(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	// Configure routes
	r.GET("/health", healthCheck(svc, cfg))
	r.GET("/metrics", metricsHandler(metrics))
	r.POST("/invoke", invoke(svc, cfg))
	r.POST("/predict", predict(svc, cfg))

	return r
}

// invoke takes the invocation envelope and always answers 200 with the
// envelope response, the way a direct function invocation does.
func invoke(svc service.ClassificationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.InvocationEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			if tooLarge(err) {
				respondError(c, http.StatusRequestEntityTooLarge, "request body too large", err)
				return
			}
			respondError(c, http.StatusBadRequest, "invalid invocation envelope",
				apperrors.NewValidationError("body must be an object with a string \"body\" field", err))
			return
		}

		ctx, cancel := context.WithTimeout(requestContext(c), cfg.RequestTimeout)
		defer cancel()

		resp := svc.Handle(ctx, event)
		c.Set(outcomeKey, resp.StatusCode)
		c.JSON(http.StatusOK, resp)
	}
}

// predict treats the raw HTTP body as the envelope's body field and maps the
// envelope response onto the HTTP status and payload, as a gateway proxy does.
func predict(svc service.ClassificationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if tooLarge(err) {
				respondError(c, http.StatusRequestEntityTooLarge, "request body too large", err)
				return
			}
			respondError(c, http.StatusBadRequest, "failed to read request body", err)
			return
		}

		ctx, cancel := context.WithTimeout(requestContext(c), cfg.RequestTimeout)
		defer cancel()

		resp := svc.Handle(ctx, models.InvocationEvent{Body: string(raw)})
		c.Set(outcomeKey, resp.StatusCode)
		c.Data(resp.StatusCode, "application/json; charset=utf-8", []byte(resp.Body))
	}
}

func healthCheck(svc service.ClassificationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "available",
			Version: Version,
			Time:    time.Now().UTC().Format(time.RFC3339),
			Labels:  svc.NumClasses(),
			Filter:  cfg.ResizeFilter,
			System:  systemStats(),
		})
	}
}

func metricsHandler(metrics MetricsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.GetMetrics())
	}
}

// Middleware and helper functions

const (
	requestIDKey = "request_id"
	outcomeKey   = "outcome_status"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestContext(c *gin.Context) context.Context {
	return service.WithRequestID(c.Request.Context(), c.GetString(requestIDKey))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"status":             c.Writer.Status(),
			"processing_time_ms": time.Since(start).Milliseconds(),
			"ip":                 c.ClientIP(),
			"user_agent":         c.Request.UserAgent(),
		}
		if outcome, ok := c.Get(outcomeKey); ok {
			fields["outcome_status"] = outcome
		}
		logger.ForRequest(c.GetString(requestIDKey)).WithFields(fields).Info("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.ForRequest(c.GetString(requestIDKey)).WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Warn("Request rejected")

	errType := string(apperrors.ErrorTypeValidation)
	if appErr, ok := apperrors.As(err); ok {
		errType = string(appErr.Type)
	}
	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   errType,
		Message: message,
	})
}
