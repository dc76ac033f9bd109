// Package config holds all rubricsync configuration, loaded from
// .rubricsync/config.yaml with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all rubricsync configuration.
type Config struct {
	// Host is the grading host the browser tab is on.
	Host HostConfig `yaml:"host"`

	// Service is the remote decision service.
	Service ServiceConfig `yaml:"service"`

	// Client configures the auth/session request client.
	Client ClientConfig `yaml:"client"`

	// Pipeline configures extraction and suggestion application.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Browser configures the Chrome attach/launch behavior.
	Browser BrowserConfig `yaml:"browser"`

	// Logging configures categorized debug logging.
	Logging LoggingConfig `yaml:"logging"`
}

// HostConfig describes the grading host's own endpoints.
type HostConfig struct {
	BaseURL   string `yaml:"base_url"`
	ProbePath string `yaml:"probe_path"` // inexpensive authenticated endpoint
	FilesPath string `yaml:"files_path"` // submission file download, printf with course/submission ids
}

// ServiceConfig describes the remote decision service.
type ServiceConfig struct {
	BaseURL      string `yaml:"base_url"`
	GradePath    string `yaml:"grade_path"`
	FeedbackPath string `yaml:"feedback_path"`
	APIKey       string `yaml:"api_key"`
}

// ClientConfig configures the auth/session request client.
type ClientConfig struct {
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int64  `yaml:"max_concurrent"`
	MaxPerMinute  int    `yaml:"max_per_minute"`
	Timeout       string `yaml:"timeout"`
	BackoffBase   string `yaml:"backoff_base"`
}

// PipelineConfig configures the grading pipeline.
type PipelineConfig struct {
	// SettleDelay is the wait after toggling a group so the host page's own
	// reactive rendering can populate the subtree.
	SettleDelay string `yaml:"settle_delay"`

	// QuietPeriod is the trailing wait after the last decision event before
	// the processing indicator is lifted.
	QuietPeriod string `yaml:"quiet_period"`

	// AutoApply and ConfidenceThreshold are collaborator settings consumed,
	// never produced, by the pipeline.
	AutoApply           bool    `yaml:"auto_apply"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FileBucketSize rounds submission ids down so sibling questions of one
	// multi-part assignment share one file download.
	FileBucketSize int64 `yaml:"file_bucket_size"`
}

// BrowserConfig configures Chrome attachment.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
}

// NavigationTimeout returns the navigation timeout.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			ProbePath: "/account",
			FilesPath: "/courses/%s/submissions/%d/file_bundle",
		},
		Service: ServiceConfig{
			GradePath:    "/v1/grade",
			FeedbackPath: "/v1/feedback",
		},
		Client: ClientConfig{
			MaxRetries:    3,
			MaxConcurrent: 10,
			MaxPerMinute:  60,
			Timeout:       "120s",
			BackoffBase:   "500ms",
		},
		Pipeline: PipelineConfig{
			SettleDelay:         "400ms",
			QuietPeriod:         "1s",
			AutoApply:           false,
			ConfidenceThreshold: 0.8,
			FileBucketSize:      10,
		},
		Browser: BrowserConfig{
			Headless:            false,
			NavigationTimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layering it over the defaults and
// then applying environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Secrets should
// come from the environment rather than the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("RUBRICSYNC_SERVICE_URL"); v != "" {
		c.Service.BaseURL = v
	}
	if v := os.Getenv("RUBRICSYNC_SERVICE_API_KEY"); v != "" {
		c.Service.APIKey = v
	}
	if v := os.Getenv("RUBRICSYNC_HOST_URL"); v != "" {
		c.Host.BaseURL = v
	}
	if v := os.Getenv("RUBRICSYNC_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
	if v := os.Getenv("RUBRICSYNC_AUTO_APPLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.AutoApply = b
		}
	}
	if v := os.Getenv("RUBRICSYNC_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pipeline.ConfidenceThreshold = f
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Client.MaxConcurrent <= 0 {
		return fmt.Errorf("client.max_concurrent must be positive, got %d", c.Client.MaxConcurrent)
	}
	if c.Client.MaxPerMinute <= 0 {
		return fmt.Errorf("client.max_per_minute must be positive, got %d", c.Client.MaxPerMinute)
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be in [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.FileBucketSize <= 0 {
		return fmt.Errorf("pipeline.file_bucket_size must be positive, got %d", c.Pipeline.FileBucketSize)
	}
	return nil
}

// Duration parses a duration field, falling back to def on empty or bad input.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
