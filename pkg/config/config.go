// Package config loads and validates the pipeline configuration file. All
// settings are explicit: components receive their configuration at
// construction and never read ambient process state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/devsecflow/secpipe/pkg/confluence"
	"github.com/devsecflow/secpipe/pkg/deploy"
	"github.com/devsecflow/secpipe/pkg/notify"
)

// Config is the full pipeline configuration.
type Config struct {
	SourceDir      string `yaml:"source_dir"       validate:"required"`
	ArtifactDir    string `yaml:"artifact_dir"     validate:"required"`
	DatabaseURL    string `yaml:"database_url"     validate:"required"`
	ImageTag       string `yaml:"image_tag"        validate:"required"`
	ReportBaseName string `yaml:"report_base_name"`

	// StageTimeoutSeconds bounds each external tool invocation. The derived
	// StageTimeout is what components consume.
	StageTimeoutSeconds int           `yaml:"stage_timeout_seconds" validate:"gte=0"`
	StageTimeout        time.Duration `yaml:"-"`

	Toggles map[string]bool `yaml:"toggles"`

	// Collaborator configs are validated only when the stage that needs
	// them is enabled; a disabled stage must not demand credentials.
	Deploy     deploy.Config     `yaml:"deploy"     validate:"-"`
	Confluence confluence.Config `yaml:"confluence" validate:"-"`
	SMTP       notify.Config     `yaml:"smtp"       validate:"-"`

	// StageSettings holds optional per-stage overrides, validated against
	// the stage settings schema at load time.
	StageSettings map[string]map[string]any `yaml:"stage_settings"`
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ArtifactDir == "" {
		c.ArtifactDir = "report"
	}

	if c.DatabaseURL == "" {
		c.DatabaseURL = "file://" + c.ArtifactDir
	}

	if c.StageTimeoutSeconds > 0 {
		c.StageTimeout = time.Duration(c.StageTimeoutSeconds) * time.Second
	} else {
		c.StageTimeout = 15 * time.Minute
	}

	c.Toggles = MergeToggles(c.Toggles)
}

// Validate checks structural validity plus toggle and stage-setting names.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name := range c.Toggles {
		if !KnownToggle(name) {
			return fmt.Errorf("unknown toggle %q", name)
		}
	}

	if c.Toggles[ToggleDeployDAST] {
		if err := validator.New().Struct(c.Deploy); err != nil {
			return fmt.Errorf("invalid deploy configuration: %w", err)
		}
	}

	if c.Toggles[TogglePublish] {
		if err := validator.New().Struct(c.Confluence); err != nil {
			return fmt.Errorf("invalid confluence configuration: %w", err)
		}
	}

	if c.Toggles[ToggleNotify] {
		if err := validator.New().Struct(c.SMTP); err != nil {
			return fmt.Errorf("invalid smtp configuration: %w", err)
		}
	}

	for stage, settings := range c.StageSettings {
		if err := ValidateStageSettings(stage, settings); err != nil {
			return err
		}
	}

	return nil
}
