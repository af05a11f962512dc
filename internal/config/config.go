package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Weight sources.
const (
	SourceLocal = "local"
	SourceHTTP  = "http"
	SourceAzure = "azure"
)

// Resize filters.
const (
	FilterBilinear     = "bilinear"
	FilterCatmullRom   = "catmullrom"
	FilterNfntBilinear = "nfnt-bilinear"
	FilterLanczos3     = "lanczos3"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	ModelDir    string
	WeightsFile string
	LabelsFile  string

	WeightsSource  string
	WeightsURL     string
	AzureAccount   string
	AzureKey       string
	AzureContainer string

	OnnxRuntimeLib    string
	InferencePoolSize int
	ResizeFilter      string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// WeightsPath is the local path the weights are loaded from.
func (c *Config) WeightsPath() string {
	return filepath.Join(c.ModelDir, c.WeightsFile)
}

// LabelsPath is the local path the class-index table is loaded from.
func (c *Config) LabelsPath() string {
	return filepath.Join(c.ModelDir, c.LabelsFile)
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),

		ModelDir:    strings.TrimSpace(os.Getenv("MODEL_DIR")),
		WeightsFile: getEnvOrDefault("WEIGHTS_FILE", "resnet34.onnx"),
		LabelsFile:  getEnvOrDefault("LABELS_FILE", "imagenet_class_index.json"),

		WeightsSource:  strings.ToLower(getEnvOrDefault("WEIGHTS_SOURCE", SourceLocal)),
		WeightsURL:     os.Getenv("WEIGHTS_URL"),
		AzureAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer: os.Getenv("AZURE_STORAGE_CONTAINER"),

		OnnxRuntimeLib:    os.Getenv("ONNXRUNTIME_LIB"),
		InferencePoolSize: int(parseIntOrDefault("INFERENCE_POOL_SIZE", 1)),
		ResizeFilter:      strings.ToLower(getEnvOrDefault("RESIZE_FILTER", FilterBilinear)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", c.RequestTimeout)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}
	if strings.TrimSpace(c.WeightsFile) == "" || strings.TrimSpace(c.LabelsFile) == "" {
		return fmt.Errorf("WEIGHTS_FILE and LABELS_FILE must not be empty")
	}
	if c.InferencePoolSize < 1 {
		return fmt.Errorf("INFERENCE_POOL_SIZE must be >= 1 (got %d)", c.InferencePoolSize)
	}

	switch c.WeightsSource {
	case SourceLocal:
	case SourceHTTP:
		if c.WeightsURL == "" {
			return fmt.Errorf("WEIGHTS_URL is required when WEIGHTS_SOURCE=%s", SourceHTTP)
		}
	case SourceAzure:
		if c.AzureAccount == "" || c.AzureKey == "" || c.AzureContainer == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY and AZURE_STORAGE_CONTAINER are required when WEIGHTS_SOURCE=%s", SourceAzure)
		}
	default:
		return fmt.Errorf("unsupported WEIGHTS_SOURCE: %q", c.WeightsSource)
	}

	switch c.ResizeFilter {
	case FilterBilinear, FilterCatmullRom, FilterNfntBilinear, FilterLanczos3:
	default:
		return fmt.Errorf("unsupported RESIZE_FILTER: %q", c.ResizeFilter)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
