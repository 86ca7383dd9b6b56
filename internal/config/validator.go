package config

import "fmt"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the YAML path to the invalid field
	Path string

	// Message describes the validation error
	Message string
}

// Error returns the error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var validModes = []string{
	"full", "insert", "select", "update", "delete", "mixed",
	"insert-only", "select-only", "update-only", "delete-only",
}

// ValidateConfig validates the configuration and returns a slice of
// validation errors. An empty slice indicates the configuration is
// valid.
func ValidateConfig(cfg *Config) []ValidationError {
	var errs []ValidationError

	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Database.Driver {
	case "postgres":
	case "":
		add("database.driver", "driver is required")
	default:
		add("database.driver", "unknown driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Host == "" {
		add("database.host", "host is required")
	}
	if cfg.Database.Name == "" {
		add("database.name", "name is required")
	}
	if cfg.Database.Port < 0 || cfg.Database.Port > 65535 {
		add("database.port", "port must be between 0 and 65535")
	}

	if cfg.Pool.MaxSize <= 0 {
		add("pool.maxSize", "maxSize must be positive")
	}
	if cfg.Pool.MinSize < 0 {
		add("pool.minSize", "minSize cannot be negative")
	}
	if cfg.Pool.MinSize > cfg.Pool.MaxSize {
		add("pool.minSize", "minSize cannot exceed maxSize")
	}
	if cfg.Pool.MaxLifetime < 0 {
		add("pool.maxLifetime", "maxLifetime cannot be negative")
	}
	if cfg.Pool.LeakThreshold < 0 {
		add("pool.leakThreshold", "leakThreshold cannot be negative")
	}

	if cfg.Load.Workers <= 0 {
		add("load.workers", "workers must be positive")
	}
	if cfg.Load.Duration <= 0 {
		add("load.duration", "duration must be positive")
	}
	if cfg.Load.WarmUp < 0 {
		add("load.warmup", "warmup cannot be negative")
	}
	if cfg.Load.RampUp < 0 {
		add("load.rampup", "rampup cannot be negative")
	}
	if cfg.Load.RampUp > 0 && cfg.Load.RampUp > cfg.Load.Duration+cfg.Load.WarmUp {
		add("load.rampup", "rampup longer than the whole run")
	}
	if cfg.Load.TargetTPS < 0 {
		add("load.targetTps", "targetTps cannot be negative")
	}
	if cfg.Load.Mode != "" && !stringInSlice(cfg.Load.Mode, validModes) {
		add("load.mode", "mode must be one of %v", validModes)
	}
	if cfg.Load.PayloadSize < 0 {
		add("load.payloadSize", "payloadSize cannot be negative")
	}

	if cfg.Report.Interval < 0 {
		add("report.interval", "interval cannot be negative")
	}

	return errs
}

func stringInSlice(s string, set []string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
