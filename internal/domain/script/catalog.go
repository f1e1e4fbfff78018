package script

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// RegistrationID is the script run by participant registration.
const RegistrationID = "register"

// Catalog is a validated set of scripts keyed by id.
type Catalog struct {
	scripts map[string]*Script
	order   []string
}

type catalogFile struct {
	Scripts []*Script `yaml:"scripts"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode scripts: %w", err)
	}
	c := &Catalog{scripts: make(map[string]*Script, len(file.Scripts))}
	for _, s := range file.Scripts {
		if s == nil {
			continue
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.scripts[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate script %q", ErrInvalidScript, s.ID)
		}
		c.scripts[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("%w: no scripts defined", ErrInvalidScript)
	}
	return c, nil
}

// Load reads a catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func (c *Catalog) Get(id string) (*Script, bool) {
	s, ok := c.scripts[id]
	return s, ok
}

func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
