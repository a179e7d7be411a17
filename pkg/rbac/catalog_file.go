package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a catalog override
type catalogFile struct {
	SystemRoles []SystemRole `yaml:"system_roles"`
}

// LoadCatalogFile reads a YAML catalog that replaces the built-in one.
//
//	system_roles:
//	  - id: dashboard.view
//	    module: dashboard
//	    name: View dashboard
//	    tags: [read]
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.SystemRoles) == 0 {
		return nil, fmt.Errorf("catalog defines no system roles")
	}
	return NewCatalog(f.SystemRoles)
}
