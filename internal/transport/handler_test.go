package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/ranker"
	"github.com/anime-shed/image-classifier-go/internal/service"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

// fakeService echoes the image it was given and records the request context.
type fakeService struct {
	status    int
	body      string
	gotEvent  models.InvocationEvent
	gotID     string
	gotExpiry time.Duration
}

func (f *fakeService) Classify(ctx context.Context, image string) (*ranker.Result, error) {
	return nil, nil
}

func (f *fakeService) Handle(ctx context.Context, event models.InvocationEvent) models.InvocationResponse {
	f.gotEvent = event
	f.gotID = service.RequestID(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		f.gotExpiry = time.Until(deadline)
	}
	return models.InvocationResponse{StatusCode: f.status, Body: f.body}
}

func (f *fakeService) NumClasses() int { return 1000 }

type fakeMetrics struct{}

func (fakeMetrics) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"total_classifications": 7}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1024,
		ResizeFilter:       config.FilterBilinear,
	}
}

func newTestHandler(svc *fakeService) http.Handler {
	return NewHandler(svc, fakeMetrics{}, testConfig())
}

func TestInvoke_ReturnsEnvelope(t *testing.T) {
	svc := &fakeService{status: 400, body: `{"error":"decode","stage":"decode","message":"payload is not valid base64"}`}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(`{"body":"garbage"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.InvocationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, svc.body, resp.Body)
	assert.Equal(t, "garbage", svc.gotEvent.Body)

	assert.NotEmpty(t, svc.gotID)
	assert.Equal(t, svc.gotID, rec.Header().Get(RequestIDHeader))
	assert.InDelta(t, float64(5*time.Second), float64(svc.gotExpiry), float64(time.Second))
}

func TestInvoke_RejectsBadEnvelope(t *testing.T) {
	h := newTestHandler(&fakeService{status: 200})

	for _, body := range []string{`not json`, `{"body": 5}`} {
		req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)

		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "validation", resp.Error)
	}
}

func TestPredict_MapsStatusAndBody(t *testing.T) {
	svc := &fakeService{status: 200, body: `{"prediction":"sports_car","sports_car":0.845}`}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`"aGVsbG8="`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, svc.body, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, `"aGVsbG8="`, svc.gotEvent.Body, "raw body is passed through unparsed")

	svc.status, svc.body = 422, `{"error":"preprocess"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("x")))
	assert.Equal(t, 422, rec.Code)
}

func TestPredict_BodyTooLarge(t *testing.T) {
	h := newTestHandler(&fakeService{status: 200})

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(strings.Repeat("A", 4096)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestID_PropagatesValidHeader(t *testing.T) {
	svc := &fakeService{status: 200, body: "{}"}
	h := newTestHandler(svc)

	id := "0b0e7a36-4a4f-4b53-9c0e-6f7c3c1f6d2a"
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("x"))
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, svc.gotID)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("x"))
	req.Header.Set(RequestIDHeader, "not-a-uuid\r\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\r\n", svc.gotID)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHandler(&fakeService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "available", health.Status)
	assert.Equal(t, 1000, health.Labels)
	assert.Equal(t, config.FilterBilinear, health.Filter)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_classifications":7}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://client.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
