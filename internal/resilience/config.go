package resilience

import (
	"time"

	"github.com/sells-group/docgraph/internal/config"
)

// Rate limiter keys for the services a document run waits on.
const (
	ServiceOCR       = "mistral_ocr"
	ServiceLayout    = "layout_ocr"
	ServiceAnthropic = "anthropic"
	ServiceEmbedding = "embedding"
)

// RetryFromConfig overlays the retry section onto DefaultRetryConfig. Zero
// fields keep the default; a zero jitter disables it and a negative one
// keeps the default.
func RetryFromConfig(c config.RetryConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	overlayMillis(&rc.InitialBackoff, c.InitialBackoffMs)
	overlayMillis(&rc.MaxBackoff, c.MaxBackoffMs)
	overlayMillis(&rc.MaxTotalBackoff, c.MaxTotalBackoffMs)
	if c.Multiplier > 0 {
		rc.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		rc.JitterFraction = c.JitterFraction
	}
	return rc
}

func overlayMillis(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// CircuitFromConfig overlays the circuit section onto
// DefaultCircuitBreakerConfig.
func CircuitFromConfig(c config.CircuitConfig) CircuitBreakerConfig {
	cb := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cb.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cb.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cb
}

// LimitersFromConfig builds one limiter per external service. Services with
// no configured rate are unlimited.
func LimitersFromConfig(c config.RateLimitConfig) *RateLimiters {
	return NewRateLimiters(map[string]RateLimitConfig{
		ServiceOCR:       {RequestsPerSecond: c.OCR, Burst: c.Burst},
		ServiceLayout:    {RequestsPerSecond: c.Layout, Burst: c.Burst},
		ServiceAnthropic: {RequestsPerSecond: c.Anthropic, Burst: c.Burst},
		ServiceEmbedding: {RequestsPerSecond: c.Embedding, Burst: c.Burst},
	}, RateLimitConfig{})
}
