package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// URLValidator checks base URLs that model artifacts are downloaded from.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator accepts http and https URLs on any host.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
	}
}

// NewURLValidatorWithOptions restricts schemes and, when hosts is non-empty, hosts.
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateBaseURL reports whether artifact names can be joined onto baseURL.
// Query strings and fragments are rejected since joining would drop or
// misplace them.
func (v *URLValidator) ValidateBaseURL(baseURL string) error {
	if strings.TrimSpace(baseURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}
	if !slices.Contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}
	if parsedURL.Hostname() == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}
	if len(v.allowedHosts) > 0 && !slices.Contains(v.allowedHosts, parsedURL.Hostname()) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return apperrors.NewValidationError("base URL must not carry a query or fragment", nil)
	}
	return nil
}
