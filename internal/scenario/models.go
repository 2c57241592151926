package scenario

import (
	"errors"
	"fmt"

	"github.com/ashureev/tripsitter/internal/domain"
)

// ErrUnknownModel is returned when a model reference is not selectable.
var ErrUnknownModel = errors.New("unknown model")

// DefaultModelID is used when a trip request names no model.
const DefaultModelID = "openai/gpt-4o-mini"

var models = []domain.Model{
	{Provider: "openai", Name: "gpt-4o-mini", Label: "GPT-4o mini"},
	{Provider: "openai", Name: "gpt-4o", Label: "GPT-4o"},
	{Provider: "anthropic", Name: "claude-3-5-haiku-latest", Label: "Claude 3.5 Haiku"},
	{Provider: "anthropic", Name: "claude-sonnet-4-0", Label: "Claude Sonnet 4"},
	{Provider: "gemini", Name: "gemini-2.0-flash", Label: "Gemini 2.0 Flash"},
	{Provider: "gemini", Name: "gemini-2.5-pro", Label: "Gemini 2.5 Pro"},
	{Provider: "openrouter", Name: "meta-llama/llama-3.3-70b-instruct", Label: "Llama 3.3 70B"},
	{Provider: "openrouter", Name: "mistralai/mistral-large", Label: "Mistral Large"},
}

// Models returns every selectable model.
func Models() []domain.Model {
	out := make([]domain.Model, len(models))
	copy(out, models)
	return out
}

// LookupModel resolves a "provider/model" reference against the catalog.
// An empty reference resolves to fallback.
func LookupModel(ref, fallback string) (domain.Model, error) {
	if ref == "" {
		ref = fallback
	}
	parsed, err := domain.ParseModelRef(ref)
	if err != nil {
		return domain.Model{}, err
	}
	for _, m := range models {
		if m.Provider == parsed.Provider && m.Name == parsed.Name {
			return m, nil
		}
	}
	return domain.Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, ref)
}
