package resilience

import (
	"time"

	"github.com/sells-group/extract-trainer/internal/config"
)

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(cfg config.CircuitConfig) CircuitBreakerConfig {
	out := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		out.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return out
}
