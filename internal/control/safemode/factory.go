package safemode

import (
	"time"

	"github.com/volteria/controller-core/internal/config"
)

// NewPolicy selects and constructs the active safe-mode Policy from the
// site configuration.
func NewPolicy(cfg config.SafeModePolicyConfig) Policy {
	timeout := cfg.TimeoutS
	if timeout <= 0 {
		timeout = 60
	}
	switch cfg.Kind {
	case config.SafeModeRollingAverage:
		return NewRollingAverage(
			float64(timeout),
			time.Duration(cfg.WindowMinutes)*time.Minute,
			cfg.RatioThreshold,
			cfg.MinSamples,
		)
	default:
		return NewTimeBased(float64(timeout))
	}
}
