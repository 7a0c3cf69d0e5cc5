package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of an optional local manifest used to
// pre-populate the registry before the controller's first desired-state
// push arrives — useful for bring-up on a disconnected node.
type seedFile struct {
	Workloads  []Workload `yaml:"workloads"`
	Routes     []Route    `yaml:"routes"`
	Registries []Registry `yaml:"registries"`
}

// LoadSeed reads a YAML seed manifest from path and applies it as the
// initial latest-desired set. A missing file is not an error — seeding is
// optional.
func (s *Store) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read seed file %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	if err := s.ReplaceLatest(seed.Workloads); err != nil {
		return fmt.Errorf("seed workloads: %w", err)
	}
	if err := s.ReplaceRoutes(seed.Routes); err != nil {
		return fmt.Errorf("seed routes: %w", err)
	}
	if err := s.ReplaceRegistries(seed.Registries); err != nil {
		return fmt.Errorf("seed registries: %w", err)
	}
	return nil
}
