package cleanup

import (
	"time"

	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Config holds cleanup worker configuration, sourced from the cache section of the central config.
type Config struct {
	CleanupInterval  time.Duration
	VerboseReporting bool
}

// NewConfig reads the cleanup settings from an already-loaded configuration.
func NewConfig(cfg *config.Config) *Config {
	interval := cfg.Cache.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Config{
		CleanupInterval:  interval,
		VerboseReporting: cfg.Cache.CleanupVerbose,
	}
}
