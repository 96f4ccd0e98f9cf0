package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpecFile is the on-disk form of a reservation request: the machine spec
// plus the session steps to run against it once it is reachable.
type SpecFile struct {
	Spec  ResourceSpec  `yaml:"spec"`
	Steps []SessionStep `yaml:"steps,omitempty"`
}

// LoadSpecFile reads and validates a YAML spec file
func LoadSpecFile(path string) (*SpecFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file %s: %w", path, err)
	}

	var sf SpecFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse spec file %s: %w", path, err)
	}

	if err := sf.Spec.Validate(); err != nil {
		return nil, err
	}

	for i, step := range sf.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("spec file %s: step %d has no name", path, i)
		}
		if step.Command == "" {
			return nil, fmt.Errorf("spec file %s: step %q has no command", path, step.Name)
		}
	}

	return &sf, nil
}
