package descriptor

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifestFile is the bundle metadata file at the root of every artifact
// payload.
const manifestFile = "info.yml"

// FrameworkRequirement names one framework bundle a manifest depends on.
type FrameworkRequirement struct {
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	MinimumVersion string `yaml:"minimum_version,omitempty"`
}

// Manifest is the parsed bundle metadata. Fields that are meaningless for a
// given bundle type are simply left at their zero value.
type Manifest struct {
	// DisplayName is the human-readable bundle name.
	DisplayName string `yaml:"display_name"`

	// Description is the bundle summary.
	Description string `yaml:"description"`

	// RequiredCoreVersion constrains the core runtime this bundle needs.
	RequiredCoreVersion string `yaml:"requires_core_version"`

	// RequiredEngineVersion constrains the hosting engine version.
	RequiredEngineVersion string `yaml:"requires_engine_version"`

	// RequiredServiceVersion constrains the remote service version.
	RequiredServiceVersion string `yaml:"requires_service_version"`

	// RequiredContext lists the context fields the bundle needs resolved
	// before it can start.
	RequiredContext []string `yaml:"required_context"`

	// SupportedPlatforms restricts the platforms the bundle runs on.
	// Empty means all platforms.
	SupportedPlatforms []string `yaml:"supported_platforms"`

	// SupportedEngines restricts which engines an app bundle can run in.
	SupportedEngines []string `yaml:"supported_engines"`

	// Frameworks lists the framework bundles this bundle requires.
	Frameworks []FrameworkRequirement `yaml:"frameworks"`

	// RequiredStorages lists the storage roots a configuration bundle
	// expects the record store to define.
	RequiredStorages []string `yaml:"requires_storages"`

	// ConfigurationSchema describes the bundle's configuration settings.
	ConfigurationSchema map[string]any `yaml:"configuration"`
}

// loadManifest reads and parses the manifest file of an artifact payload.
// A payload without a manifest yields an empty manifest, not an error:
// configurations assembled by hand frequently omit it.
func loadManifest(artifactPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(artifactPath, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, NewIOError("failed to read bundle manifest", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, NewSpecError("failed to parse bundle manifest", err)
	}
	return &manifest, nil
}
