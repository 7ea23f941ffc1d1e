// Package retrovueconfig enumerates the control plane's tunables. Loading
// values from environment, files, or a secrets manager is the external
// CLI's job; this package only defines, defaults, and validates the struct.
package retrovueconfig

import (
	"time"

	"github.com/retrovue/core/internal/retrovueerr"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the specification's configuration
// table.
type Config struct {
	MinExecutionHorizonMs      int64  `yaml:"min_execution_horizon_ms"`
	ProactiveExtendThresholdMs int64  `yaml:"proactive_extend_threshold_ms"`
	EPGHorizonDays             int    `yaml:"epg_horizon_days"`
	ProgrammingDayStartLocal   string `yaml:"programming_day_start_local"` // "HH:MM"
	GridMinutes                int    `yaml:"grid_minutes"`
	MaxSpoolBytes              int64  `yaml:"max_spool_bytes"` // 0 = unlimited
	FlushIntervalMs            int64  `yaml:"flush_interval_ms"`
	FlushRecordsMax            int    `yaml:"flush_records_max"`
	StartupLatencyMs           int64  `yaml:"startup_latency_ms"`
	MinPrefeedLeadTimeMs       int64  `yaml:"min_prefeed_lead_time_ms"`
	TeardownGraceTimeoutS      int64  `yaml:"teardown_grace_timeout_s"`
	MaxStartupConvergenceS     int64  `yaml:"max_startup_convergence_s"`
	RPCTimeoutMs               int64  `yaml:"rpc_timeout_ms"`
}

// DefaultConfig returns the specification's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinExecutionHorizonMs:      3 * int64(time.Hour/time.Millisecond),
		ProactiveExtendThresholdMs: 30 * int64(time.Minute/time.Millisecond),
		EPGHorizonDays:             2,
		ProgrammingDayStartLocal:   "06:00",
		GridMinutes:                30,
		MaxSpoolBytes:              0,
		FlushIntervalMs:            250,
		FlushRecordsMax:            50,
		StartupLatencyMs:           2000,
		MinPrefeedLeadTimeMs:       1000,
		TeardownGraceTimeoutS:      10,
		MaxStartupConvergenceS:     30,
		RPCTimeoutMs:               2000,
	}
}

// ProgrammingDayStart parses ProgrammingDayStartLocal into an hour/minute
// pair.
func (c Config) ProgrammingDayStart() (hour, minute int, err error) {
	t, perr := time.Parse("15:04", c.ProgrammingDayStartLocal)
	if perr != nil {
		return 0, 0, retrovueerr.Wrap(retrovueerr.CodePlanValidation, "ProgrammingDayStart", perr)
	}
	return t.Hour(), t.Minute(), nil
}

// MinExecutionHorizon is MinExecutionHorizonMs as a time.Duration.
func (c Config) MinExecutionHorizon() time.Duration {
	return time.Duration(c.MinExecutionHorizonMs) * time.Millisecond
}

// ProactiveExtendThreshold is ProactiveExtendThresholdMs as a time.Duration.
func (c Config) ProactiveExtendThreshold() time.Duration {
	return time.Duration(c.ProactiveExtendThresholdMs) * time.Millisecond
}

// Grid is GridMinutes as a time.Duration.
func (c Config) Grid() time.Duration {
	return time.Duration(c.GridMinutes) * time.Minute
}

// TeardownGraceTimeout is TeardownGraceTimeoutS as a time.Duration.
func (c Config) TeardownGraceTimeout() time.Duration {
	return time.Duration(c.TeardownGraceTimeoutS) * time.Second
}

// MaxStartupConvergence is MaxStartupConvergenceS as a time.Duration.
func (c Config) MaxStartupConvergence() time.Duration {
	return time.Duration(c.MaxStartupConvergenceS) * time.Second
}

// RPCTimeout is RPCTimeoutMs as a time.Duration.
func (c Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

// StartupLatency is StartupLatencyMs as a time.Duration.
func (c Config) StartupLatency() time.Duration {
	return time.Duration(c.StartupLatencyMs) * time.Millisecond
}

// MinPrefeedLeadTime is MinPrefeedLeadTimeMs as a time.Duration.
func (c Config) MinPrefeedLeadTime() time.Duration {
	return time.Duration(c.MinPrefeedLeadTimeMs) * time.Millisecond
}

// FlushInterval is FlushIntervalMs as a time.Duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// Validate rejects out-of-range configuration.
func (c Config) Validate() error {
	if c.MinExecutionHorizonMs <= 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "min_execution_horizon_ms must be positive")
	}
	if c.ProactiveExtendThresholdMs < 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "proactive_extend_threshold_ms must be non-negative")
	}
	if c.EPGHorizonDays <= 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "epg_horizon_days must be positive")
	}
	if c.GridMinutes <= 0 || 24*60%c.GridMinutes != 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "grid_minutes must evenly divide 24h")
	}
	if c.MaxSpoolBytes < 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "max_spool_bytes must be non-negative")
	}
	if c.FlushIntervalMs <= 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "flush_interval_ms must be positive")
	}
	if c.FlushRecordsMax <= 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "flush_records_max must be positive")
	}
	if _, _, err := c.ProgrammingDayStart(); err != nil {
		return err
	}
	if c.RPCTimeoutMs <= 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Config.Validate", "rpc_timeout_ms must be positive")
	}
	return nil
}

// FromYAML decodes a Config from YAML, starting from DefaultConfig so that
// omitted fields keep their default.
func FromYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, retrovueerr.Wrap(retrovueerr.CodePlanValidation, "FromYAML", err)
	}
	return cfg, nil
}
