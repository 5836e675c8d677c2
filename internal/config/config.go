package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"grantline/internal/domain"
)

// Config models grantline.yml.
type Config struct {
	Source struct {
		System string `yaml:"system"`
		Table  string `yaml:"table"`
	} `yaml:"source"`
	Ingest struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"ingest"`
	Semantics struct {
		Rules []SemanticsRule `yaml:"rules"`
	} `yaml:"semantics"`
}

// SemanticsRule overrides or extends the built-in status interpretation
// table for one (status id, task type) pair. Successful is tri-state:
// omitted means unknown.
type SemanticsRule struct {
	StatusID      int64  `yaml:"status_id"`
	TaskType      string `yaml:"task_type"`
	Actionable    bool   `yaml:"actionable"`
	NeedsFollowUp bool   `yaml:"needs_follow_up"`
	Successful    *bool  `yaml:"successful,omitempty"`
	Terminal      bool   `yaml:"terminal,omitempty"`
	Description   string `yaml:"description,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Source.System == "" {
		return fmt.Errorf("config.source.system is required")
	}
	if c.Ingest.Concurrency < 0 {
		return fmt.Errorf("config.ingest.concurrency must not be negative")
	}
	for i, rule := range c.Semantics.Rules {
		if rule.StatusID < 1 {
			return fmt.Errorf("semantics rule %d: status_id must be positive", i)
		}
		if _, ok := domain.ParseTaskType(rule.TaskType); !ok {
			return fmt.Errorf("semantics rule %d: unknown task type %q", i, rule.TaskType)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "grantline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `source:
  system: writing_schedule
  table: writing_schedule_current

ingest:
  concurrency: 4

semantics:
  rules: []
`
