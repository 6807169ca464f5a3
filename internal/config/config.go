package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config models stepline.yml.
type Config struct {
	Items struct {
		RootPrefix string `yaml:"root_prefix"`
	} `yaml:"items"`
	Ready struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxDepth     int `yaml:"max_depth"`
	} `yaml:"ready"`
	Progress struct {
		AutoClose bool `yaml:"auto_close"`
	} `yaml:"progress"`
	Validation struct {
		DefaultContentKind string `yaml:"default_content_kind"`
		MinLength          int    `yaml:"min_length"`
	} `yaml:"validation"`
}

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create it with sl init", path)
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !prefixPattern.MatchString(c.Items.RootPrefix) {
		return fmt.Errorf("config.items.root_prefix must be lowercase alphanumeric starting with a letter, got %q", c.Items.RootPrefix)
	}
	if c.Ready.DefaultLimit < 0 {
		return fmt.Errorf("config.ready.default_limit must be >= 0")
	}
	if c.Ready.MaxDepth < 1 {
		return fmt.Errorf("config.ready.max_depth must be >= 1")
	}
	if c.Validation.DefaultContentKind == "" {
		return fmt.Errorf("config.validation.default_content_kind is required")
	}
	if c.Validation.MinLength < 0 {
		return fmt.Errorf("config.validation.min_length must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stepline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(rootPrefix string) string {
	if rootPrefix == "" {
		rootPrefix = "root"
	}
	return fmt.Sprintf(defaultTemplate, rootPrefix)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault("")), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `items:
  # prefix of generated root IDs, e.g. root-a1b2
  root_prefix: %s

ready:
  # used when a caller passes no limit; 0 returns everything
  default_limit: 20
  # deepest ancestor chain the resolver walks before refusing
  max_depth: 32

progress:
  # close parents automatically once every child is closed
  auto_close: true

validation:
  default_content_kind: text
  min_length: 1
`
