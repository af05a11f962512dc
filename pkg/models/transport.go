package models

// InvocationEvent is the direct-invocation envelope. Body carries either the
// image string itself or a JSON document that contains it.
type InvocationEvent struct {
	Body string `json:"body"`
}

// InvocationResponse mirrors a gateway proxy response: the HTTP status and a
// JSON-encoded body.
type InvocationResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health check.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Time    string       `json:"time"`
	Labels  int          `json:"labels"`
	Filter  string       `json:"resize_filter"`
	System  *SystemStats `json:"system,omitempty"`
}

// SystemStats is a point-in-time sample of host resource usage.
type SystemStats struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPUUsedPercent    float64 `json:"cpu_used_percent"`
}
