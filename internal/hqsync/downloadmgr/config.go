package downloadmgr

// Config configures a Manager's polling cadence, per spec §6's Download
// section (the subset owned by this module rather than changedetector/
// downloader).
type Config struct {
	PollIntervalMs int
}

const (
	defaultPollIntervalMs = 30000
	minPollIntervalMs     = 5000
	maxPollIntervalMs     = 3600000
)

// WithDefaults fills zero-valued fields with spec §6 defaults and clamps
// PollIntervalMs into [5000, 3600000].
func (cfg Config) WithDefaults() Config {
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.PollIntervalMs < minPollIntervalMs {
		cfg.PollIntervalMs = minPollIntervalMs
	}
	if cfg.PollIntervalMs > maxPollIntervalMs {
		cfg.PollIntervalMs = maxPollIntervalMs
	}
	return cfg
}
