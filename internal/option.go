package internal

import "github.com/starford/scholia/internal/analysis"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	version string
	client  analysis.Client
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithAnalysisClient replaces the configured AI provider client.
func WithAnalysisClient(c analysis.Client) Option {
	return func(a *application) {
		a.client = c
	}
}
