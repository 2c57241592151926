// Package domain contains core domain types for the tripsitter service.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Phase is one of the three fixed stages of a trip.
type Phase string

const (
	PhaseOnset    Phase = "onset"
	PhasePeak     Phase = "peak"
	PhaseComedown Phase = "comedown"
)

// Phases returns the phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseOnset, PhasePeak, PhaseComedown}
}

// Category classifies a scenario. The set is closed.
type Category string

const (
	CategoryPsychedelic  Category = "psychedelic"
	CategoryDissociative Category = "dissociative"
	CategoryStimulant    Category = "stimulant"
	CategoryDepressant   Category = "depressant"
	CategoryEmpathogen   Category = "empathogen"
	CategoryDeliriant    Category = "deliriant"
)

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPsychedelic, CategoryDissociative, CategoryStimulant,
		CategoryDepressant, CategoryEmpathogen, CategoryDeliriant:
		return true
	}
	return false
}

// Intensity bounds ("chaos level").
const (
	MinIntensity = 1
	MaxIntensity = 5
)

var (
	// ErrInvalidScenario is returned by Scenario.Validate.
	ErrInvalidScenario = errors.New("invalid scenario")

	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Scenario is a named three-phase prompt script ("substance").
type Scenario struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Category    Category         `json:"category" yaml:"category"`
	Intensity   int              `json:"chaos_level" yaml:"intensity"`
	Description string           `json:"description" yaml:"description"`
	Directives  map[Phase]string `json:"-" yaml:"directives"`
}

// Directive returns the system directive for a phase.
func (s *Scenario) Directive(p Phase) string {
	return s.Directives[p]
}

// Validate checks the scenario invariants.
func (s *Scenario) Validate() error {
	if !slugPattern.MatchString(s.ID) {
		return fmt.Errorf("%w: bad id %q", ErrInvalidScenario, s.ID)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidScenario, s.ID)
	}
	if !s.Category.IsValid() {
		return fmt.Errorf("%w: %s has unknown category %q", ErrInvalidScenario, s.ID, s.Category)
	}
	if s.Intensity < MinIntensity || s.Intensity > MaxIntensity {
		return fmt.Errorf("%w: %s intensity %d out of range [%d,%d]",
			ErrInvalidScenario, s.ID, s.Intensity, MinIntensity, MaxIntensity)
	}
	for _, p := range Phases() {
		if strings.TrimSpace(s.Directives[p]) == "" {
			return fmt.Errorf("%w: %s missing %s directive", ErrInvalidScenario, s.ID, p)
		}
	}
	return nil
}
