// Package config defines the YAML configuration file for a load test run
// and its loading and validation.
package config

import "time"

// Config represents the top-level configuration file structure.
type Config struct {
	// Database configures the target database and driver.
	Database Database `yaml:"database"`

	// Pool configures the connection pool.
	Pool Pool `yaml:"pool"`

	// Load configures workers, duration, and pacing.
	Load Load `yaml:"load"`

	// Report configures progress output and result export.
	Report Report `yaml:"report"`
}

// Database identifies the target and how to reach it.
type Database struct {
	// Driver selects the adapter. Currently "postgres".
	Driver string `yaml:"driver"`

	// Host is the database server hostname or address.
	Host string `yaml:"host"`

	// Port is the server port. Zero uses the driver default.
	Port int `yaml:"port"`

	// Name is the database to connect to.
	Name string `yaml:"name"`

	// User and Password authenticate the session. Password may also come
	// from the DBPULSE_PASSWORD environment variable.
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`

	// SSLMode is passed through to the driver (for postgres: disable,
	// require, verify-full, ...).
	SSLMode string `yaml:"sslmode,omitempty"`

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`

	// QueryTimeout bounds each statement. Zero means no per-statement
	// deadline beyond the run's own.
	QueryTimeout time.Duration `yaml:"queryTimeout,omitempty"`

	// Params are extra driver-specific connection parameters.
	Params map[string]string `yaml:"params,omitempty"`

	// Setup creates the test table before the run when true.
	Setup bool `yaml:"setup,omitempty"`
}

// Pool sizes and tunes the connection pool.
type Pool struct {
	// MinSize is how many connections warm-up opens. Zero warms up to
	// MaxSize.
	MinSize int `yaml:"minSize,omitempty"`

	// MaxSize is the maximum number of connections, idle plus active.
	// The pool grows lazily from MinSize toward this on demand.
	MaxSize int `yaml:"maxSize"`

	// MaxLifetime recycles connections older than this. Zero disables.
	MaxLifetime time.Duration `yaml:"maxLifetime,omitempty"`

	// LeakThreshold flags connections held longer than this. Zero
	// disables leak detection.
	LeakThreshold time.Duration `yaml:"leakThreshold,omitempty"`

	// HealthInterval is the period of the idle validation sweep.
	HealthInterval time.Duration `yaml:"healthInterval,omitempty"`
}

// Load shapes the traffic.
type Load struct {
	// Workers is the number of concurrent workers.
	Workers int `yaml:"workers"`

	// Duration is the measured run length, excluding warm-up.
	Duration time.Duration `yaml:"duration"`

	// WarmUp runs traffic before measurement starts. Statistics reset at
	// the warm-up boundary.
	WarmUp time.Duration `yaml:"warmup,omitempty"`

	// RampUp spreads worker starts across this duration.
	RampUp time.Duration `yaml:"rampup,omitempty"`

	// Mode is one of full, insert, select, update, delete, mixed.
	Mode string `yaml:"mode,omitempty"`

	// TargetTPS caps whole-run throughput. Zero means unlimited.
	TargetTPS int `yaml:"targetTps,omitempty"`

	// PayloadSize is the data column width in bytes.
	PayloadSize int `yaml:"payloadSize,omitempty"`

	// IDCacheSize bounds the shared cache of recently inserted row ids.
	IDCacheSize int `yaml:"idCacheSize,omitempty"`

	// Seed makes payload generation reproducible. Zero seeds from the
	// clock.
	Seed int64 `yaml:"seed,omitempty"`
}

// Report controls output.
type Report struct {
	// Interval is how often the progress line prints. Zero means 5s.
	Interval time.Duration `yaml:"interval,omitempty"`

	// CSV, when set, is the path prefix for CSV result export.
	CSV string `yaml:"csv,omitempty"`

	// JSON, when set, is the path for JSON result export.
	JSON string `yaml:"json,omitempty"`
}

// Default returns a configuration with working defaults for everything
// but the database coordinates.
func Default() *Config {
	return &Config{
		Database: Database{
			Driver:         "postgres",
			Host:           "localhost",
			SSLMode:        "disable",
			ConnectTimeout: 10 * time.Second,
		},
		Pool: Pool{
			MinSize:        5,
			MaxSize:        10,
			MaxLifetime:    30 * time.Minute,
			LeakThreshold:  60 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		Load: Load{
			Workers:  10,
			Duration: time.Minute,
			WarmUp:   10 * time.Second,
			Mode:     "full",
		},
		Report: Report{
			Interval: 5 * time.Second,
		},
	}
}
