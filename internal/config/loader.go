package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a YAML configuration file, layered over
// Default. The DBPULSE_PASSWORD environment variable overrides any
// password in the file so credentials can stay out of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over the defaults. Unknown fields are
// rejected so typos fail loudly instead of silently using a default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if pw := os.Getenv("DBPULSE_PASSWORD"); pw != "" {
		cfg.Database.Password = pw
	}
	return cfg, nil
}
