package resilience

import "time"

// FromRetrySettings builds a RetryConfig from config values, keeping defaults
// for zero values.
func FromRetrySettings(maxAttempts, backoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if backoffMs > 0 {
		cfg.Backoff = time.Duration(backoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitSettings builds a CircuitBreakerConfig from config values.
func FromCircuitSettings(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
