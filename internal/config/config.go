// Package config loads the packsmith configuration file. The file is
// YAML, validated against an embedded JSON Schema before decoding.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sigsyaml "sigs.k8s.io/yaml"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "channels": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "repositories": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "cache_ttl": {"type": "string"},
    "backup_max_age": {"type": "string"},
    "workers": {"type": "integer", "minimum": 1},
    "host_version": {"type": "string"},
    "platform": {"type": "string"},
    "package_name_map": {"type": "object", "additionalProperties": {"type": "string"}},
    "renamed_packages": {"type": "object", "additionalProperties": {"type": "string"}},
    "http": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"type": "string"},
        "max_attempts": {"type": "integer", "minimum": 1},
        "user_agent": {"type": "string"},
        "precedence": {"type": "array", "items": {"type": "string", "enum": ["http", "curl", "wget"]}}
      }
    }
  }
}`

var schema = mustCompile("config.schema.json", schemaJSON)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// HTTP holds downloader settings.
type HTTP struct {
	Timeout     string   `json:"timeout"`
	MaxAttempts int      `json:"max_attempts"`
	UserAgent   string   `json:"user_agent"`
	Precedence  []string `json:"precedence"`
}

// Config is the decoded configuration file with defaults applied.
type Config struct {
	Channels       []string          `json:"channels"`
	Repositories   []string          `json:"repositories"`
	CacheTTL       string            `json:"cache_ttl"`
	BackupMaxAge   string            `json:"backup_max_age"`
	Workers        int               `json:"workers"`
	HostVersion    string            `json:"host_version"`
	Platform       string            `json:"platform"`
	PackageNameMap map[string]string `json:"package_name_map"`
	Renamed        map[string]string `json:"renamed_packages"`
	HTTP           HTTP              `json:"http"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		CacheTTL:     "5m",
		BackupMaxAge: "336h",
		Workers:      4,
		HTTP: HTTP{
			Timeout:     "30s",
			MaxAttempts: 3,
			Precedence:  []string{"http", "curl", "wget"},
		},
	}
}

// Load reads and validates a configuration file. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("config is not valid YAML: %w", err)
	}
	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CacheTTLDuration parses the cache TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// BackupMaxAgeDuration parses the backup retention age.
func (c *Config) BackupMaxAgeDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackupMaxAge)
	return d
}

// HTTPTimeout parses the downloader timeout.
func (c *Config) HTTPTimeout() time.Duration {
	d, _ := time.ParseDuration(c.HTTP.Timeout)
	return d
}

// check verifies the duration fields, which the schema only types as
// strings.
func (c *Config) check() error {
	for name, value := range map[string]string{
		"cache_ttl":      c.CacheTTL,
		"backup_max_age": c.BackupMaxAge,
		"http.timeout":   c.HTTP.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config field %s: %w", name, err)
		}
	}
	return nil
}
