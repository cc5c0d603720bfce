package internal

import (
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Index     IndexConfig       `yaml:"index"`
	Engine    EngineConfig      `yaml:"engine"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	return c.Engine.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// WorkspaceConfig holds the path to the entity workspace directory.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig holds the SQLite search index configuration. The index only
// exists in serve mode; maintenance runs never open it.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// Resolve returns the index path, resolving a relative path against the
// workspace.
func (c *IndexConfig) Resolve(workspace string) string {
	if filepath.IsAbs(c.Path) {
		return c.Path
	}
	return filepath.Join(workspace, c.Path)
}

// EngineConfig tunes maintenance runs.
type EngineConfig struct {
	// MinConfidence discards analyzer findings below the threshold before
	// they become decisions.
	MinConfidence float64        `yaml:"min_confidence"`
	BatchSize     int            `yaml:"batch_size"`
	Workers       int            `yaml:"workers"`
	Analyzer      AnalyzerConfig `yaml:"analyzer"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MinConfidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.BatchSize, validation.Min(0)),
		validation.Field(&c.Workers, validation.Min(0)),
	); err != nil {
		return err
	}
	return c.Analyzer.Validate()
}

// AnalyzerConfig selects the analyzer capability. An empty Command uses the
// built-in deterministic rules; a non-empty Command runs the external
// process with the analysis request on stdin.
type AnalyzerConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate validates the analyzer configuration.
func (c *AnalyzerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TimeoutSeconds, validation.Min(0)),
	)
}

// Timeout returns the configured per-invocation bound.
func (c *AnalyzerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Workspace: WorkspaceConfig{
			Path: ".",
		},
		Index: IndexConfig{
			Path: ".curator/index.db",
		},
		Engine: EngineConfig{
			MinConfidence: 0.5,
			Analyzer: AnalyzerConfig{
				TimeoutSeconds: 120,
			},
		},
	}
}
