// Package config loads and validates the bootstrap settings: the remote
// service connection, the bundle-cache root set, and the environment
// overrides that adjust them.
package config

import (
	"time"
)

// Settings is the top-level bootstrap configuration, typically loaded from
// a YAML file and adjusted by environment overrides.
type Settings struct {
	// Connection identifies the remote service.
	Connection ConnectionSettings `yaml:"connection" validate:"required"`

	// Cache configures the bundle-cache root set.
	Cache CacheSettings `yaml:"cache"`

	// PluginID is the plugin scope used during configuration resolution
	// (e.g. "basic.maya").
	PluginID string `yaml:"plugin_id"`

	// ProjectID is the target project, 0 for site scope.
	ProjectID int `yaml:"project_id"`

	// FallbackDescriptor is the descriptor URI used when no configuration
	// record matches during resolution.
	FallbackDescriptor string `yaml:"fallback_descriptor"`

	// Interpreter is the path the generated launcher scripts bind to.
	Interpreter string `yaml:"interpreter"`
}

// ConnectionSettings carries the remote-service session parameters.
type ConnectionSettings struct {
	// BaseURL is the service URL.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Proxy is an optional HTTP proxy in host:port form.
	Proxy string `yaml:"http_proxy"`

	// UserLogin is the login of the current user.
	UserLogin string `yaml:"user_login"`

	// UserID is the record id of the current user.
	UserID int `yaml:"user_id"`

	// Timeout bounds individual service requests.
	Timeout time.Duration `yaml:"timeout"`
}

// CacheSettings configures the bundle-cache root set.
type CacheSettings struct {
	// Root is the writable primary cache root. Empty selects the
	// platform default under the user cache directory.
	Root string `yaml:"root"`

	// FallbackRoots are read-only cache locations searched before the
	// primary for downloadable artifacts.
	FallbackRoots []string `yaml:"fallback_roots"`
}
