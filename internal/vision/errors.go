package vision

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/resilience"
)

// ProviderError is a classified failure from a vision provider.
type ProviderError struct {
	Provider   model.ProviderName
	Kind       model.ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vision: %s %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vision: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether one automatic retry is allowed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == model.ErrorTimeout || e.Kind == model.ErrorNetwork
}

// CountsAgainstBreaker reports whether the failure indicates an unhealthy
// provider. Rate limits and exhausted credit do not.
func (e *ProviderError) CountsAgainstBreaker() bool {
	return e.Kind != model.ErrorRateLimited && e.Kind != model.ErrorProviderExhausted
}

// ParseFailure is returned when a model reply cannot be read as the expected
// JSON document.
type ParseFailure struct {
	Raw    string
	Reason string
}

func (e *ParseFailure) Error() string {
	return "vision: parse failure: " + e.Reason
}

var exhaustedMarkers = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"credit balance",
	"billing",
	"quota exceeded",
	"resource_exhausted",
	"payment required",
}

// Classify maps an HTTP status and underlying error onto the failure
// taxonomy. status is 0 when no response was received.
func Classify(provider model.ProviderName, status int, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}
	exhausted := false
	for _, m := range exhaustedMarkers {
		if strings.Contains(msg, m) {
			exhausted = true
			break
		}
	}

	kind := model.ErrorProvider
	switch {
	case status == http.StatusPaymentRequired:
		kind = model.ErrorProviderExhausted
	case status == http.StatusTooManyRequests && exhausted:
		kind = model.ErrorProviderExhausted
	case status == http.StatusTooManyRequests:
		kind = model.ErrorRateLimited
	case status >= 400 && status < 500 && exhausted:
		kind = model.ErrorProviderExhausted
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = model.ErrorTimeout
	case status > 0:
		kind = model.ErrorProvider
	case resilience.IsTimeout(err):
		kind = model.ErrorTimeout
	case resilience.IsNetwork(err):
		kind = model.ErrorNetwork
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the error kind carried by err, or provider_error.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorNone
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var pf *ParseFailure
	if errors.As(err, &pf) {
		return model.ErrorParseFailure
	}
	if resilience.IsTimeout(err) {
		return model.ErrorTimeout
	}
	if resilience.IsNetwork(err) {
		return model.ErrorNetwork
	}
	return model.ErrorProvider
}
