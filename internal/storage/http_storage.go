package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxAttempts = 3

// HTTPStore downloads artifacts from a base URL, e.g. a CDN or object
// storage bucket exposed over HTTPS.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	backoff time.Duration
}

// HTTPOption customizes an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithBackoff sets the base delay between retries (attempt n waits n*backoff).
func WithBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPStore) { s.backoff = d }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// NewHTTPStore creates an HTTP artifact store rooted at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) *HTTPStore {
	transport := &http.Transport{
		MaxIdleConns:           4,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  30 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 4096,
	}

	s := &HTTPStore{
		baseURL: baseURL,
		backoff: time.Second,
		client: &http.Client{
			// No client Timeout: downloads are bounded by the caller's ctx.
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the backend in logs.
func (s *HTTPStore) Name() string { return "http" }

// Open GETs baseURL/name. Transport errors and 5xx responses are retried up
// to three attempts; 4xx responses fail immediately.
func (s *HTTPStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	artifactURL, err := url.JoinPath(s.baseURL, name)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * s.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		req.Header.Set("User-Agent", "image-classifier-go/1.0")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactURL)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			resp.Body.Close()
			return nil, fmt.Errorf("client error: status code %d", resp.StatusCode)
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", name, maxAttempts, lastErr)
}
