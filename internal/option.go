package internal

import "github.com/starford/curator/internal/analyzer"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	analyzer analyzer.Analyzer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithAnalyzer overrides the analyzer selected by the configuration.
func WithAnalyzer(az analyzer.Analyzer) Option {
	return func(a *application) {
		a.analyzer = az
	}
}
