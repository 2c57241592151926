// Package scenario holds the static catalog of trip scenarios and selectable models.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/ashureev/tripsitter/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var scenariosYAML []byte

// ErrUnknownScenario is returned when a scenario id is not in the catalog.
var ErrUnknownScenario = errors.New("unknown substance")

type catalogFile struct {
	Substances []*domain.Scenario `yaml:"substances"`
}

// Catalog is an immutable set of scenarios.
type Catalog struct {
	byID    map[string]*domain.Scenario
	ordered []*domain.Scenario
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(scenariosYAML)
}

// Parse builds a catalog from a YAML document and validates every entry.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenario catalog: %w", err)
	}
	if len(file.Substances) == 0 {
		return nil, errors.New("scenario catalog is empty")
	}

	c := &Catalog{byID: make(map[string]*domain.Scenario, len(file.Substances))}
	for _, s := range file.Substances {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		c.byID[s.ID] = s
		c.ordered = append(c.ordered, s)
	}
	return c, nil
}

// Get returns the scenario with the given id.
func (c *Catalog) Get(id string) (*domain.Scenario, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Lookup is Get with an error for unknown ids.
func (c *Catalog) Lookup(id string) (*domain.Scenario, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return s, nil
}

// List returns all scenarios in catalog order.
func (c *Catalog) List() []*domain.Scenario {
	out := make([]*domain.Scenario, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ByCategory returns the scenarios of one category, most intense first.
func (c *Catalog) ByCategory(cat domain.Category) []*domain.Scenario {
	var out []*domain.Scenario
	for _, s := range c.ordered {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Intensity > out[j].Intensity })
	return out
}
