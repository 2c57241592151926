package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidModelRef is returned when a model reference is not provider/model.
var ErrInvalidModelRef = errors.New("invalid model reference")

// Model is a provider-qualified model reference.
type Model struct {
	Provider string `json:"provider" yaml:"provider"`
	Name     string `json:"model" yaml:"model"`
	Label    string `json:"label" yaml:"label"`
}

// ID returns the canonical "provider/model" form.
func (m Model) ID() string {
	return m.Provider + "/" + m.Name
}

// ParseModelRef splits "provider/model". The model part may itself contain
// slashes (openrouter ids do).
func ParseModelRef(ref string) (Model, error) {
	provider, name, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || provider == "" || name == "" {
		return Model{}, fmt.Errorf("%w: %q", ErrInvalidModelRef, ref)
	}
	return Model{Provider: strings.ToLower(provider), Name: name}, nil
}
