package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
)

// EnvBundleCacheRoot overrides the primary bundle-cache root.
const EnvBundleCacheRoot = "SGTK_BUNDLE_CACHE_PATH"

// Load reads a settings file, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Settings, error) {
	settings := &Settings{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	}

	applyEnvOverrides(settings)
	applyDefaults(settings)

	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return settings, nil
}

func applyEnvOverrides(settings *Settings) {
	if root := os.Getenv(EnvBundleCacheRoot); root != "" {
		settings.Cache.Root = root
	}
}

func applyDefaults(settings *Settings) {
	if settings.Cache.Root == "" {
		settings.Cache.Root = defaultCacheRoot()
	}
}

// defaultCacheRoot resolves the platform-default bundle cache under the
// user cache directory.
func defaultCacheRoot() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "pipelinekit", "bundle_cache")
}

// CacheRoots builds the descriptor-layer root set from the cache settings.
func (s *Settings) CacheRoots() descriptor.CacheRoots {
	return descriptor.CacheRoots{
		Primary:   s.Cache.Root,
		Fallbacks: append([]string(nil), s.Cache.FallbackRoots...),
	}
}

// Session builds the record-store session from the connection settings.
func (s *Settings) Session() recordstore.Session {
	return recordstore.Session{
		BaseURL:   s.Connection.BaseURL,
		Proxy:     s.Connection.Proxy,
		UserLogin: s.Connection.UserLogin,
		UserID:    s.Connection.UserID,
		Timeout:   s.Connection.Timeout,
	}
}
