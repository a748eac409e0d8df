package source

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the YAML document listing every source a run may process.
type Catalog struct {
	Sources []Descriptor `yaml:"sources"`
}

// LoadCatalog reads and validates a catalog file. Every descriptor must
// validate and IDs must be unique across the catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog parses catalog YAML from memory.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if len(cat.Sources) == 0 {
		return nil, fmt.Errorf("catalog lists no sources")
	}
	seen := make(map[string]bool, len(cat.Sources))
	for i := range cat.Sources {
		d := &cat.Sources[i]
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i, describe(d), err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate source id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return &cat, nil
}

// Get returns the descriptor with the given id.
func (c *Catalog) Get(id string) (*Descriptor, bool) {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

func describe(d *Descriptor) string {
	switch {
	case d.ID != "":
		return d.ID
	case d.File != "":
		return d.File
	case d.URL != "":
		return d.URL
	}
	return "unnamed"
}
