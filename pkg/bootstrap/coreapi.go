package bootstrap

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
)

// coreLocationFile is the shape of core_api.yml: a single location key
// holding a descriptor specifier.
type coreLocationFile struct {
	Location descriptor.Spec `yaml:"location"`
}

// readCoreLocationFile parses a core_api.yml file. Returns (nil, nil) when
// the file does not exist: an absent declaration is not an error.
func readCoreLocationFile(path string) (descriptor.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, descriptor.NewFilesystemError("failed to read core location file", err)
	}
	var parsed coreLocationFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, descriptor.NewSpecError("failed to parse core location file", err)
	}
	if len(parsed.Location) == 0 {
		return nil, nil
	}
	return parsed.Location, nil
}
