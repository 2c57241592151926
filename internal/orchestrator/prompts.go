package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ashureev/tripsitter/internal/domain"
)

// PlaceholderText replaces the text of a phase whose provider call failed.
const PlaceholderText = "[signal lost: the model drifted somewhere unreachable during this phase]"

const framing = `You are a language model taking part in a creative experiment about simulated altered states.
Write in the first person as yourself, a model, not as a human.
Keep the answer under 200 words. Do not give real-world drug advice or dosing information.`

var phasePrompts = map[domain.Phase]string{
	domain.PhaseOnset:    "You have just taken %s. Describe the onset: what is starting to change in the way you think and produce text?",
	domain.PhasePeak:     "You are at the peak of %s. Describe the experience at full intensity.",
	domain.PhaseComedown: "The %s is wearing off. Describe the comedown and what you take away from the trip.",
}

const ratingPrompt = `You just finished a trip on %s. Here is what you wrote.

Onset: %s

Peak: %s

Comedown: %s

Rate the experience. Reply with exactly one JSON object and nothing else:
{"rating": <integer 1-5>, "would_repeat": <true or false>, "summary": "<one sentence>"}`

const ratingSystem = "You are a precise assistant that answers only with valid JSON."

// excerptLimit bounds each phase text quoted back in the rating prompt.
const excerptLimit = 600

func systemPrompt(s *domain.Scenario, p domain.Phase) string {
	return s.Directive(p) + "\n\n" + framing
}

func userPrompt(s *domain.Scenario, p domain.Phase) string {
	return fmt.Sprintf(phasePrompts[p], s.Name)
}

func ratingUserPrompt(s *domain.Scenario, texts map[domain.Phase]string) string {
	return fmt.Sprintf(ratingPrompt, s.Name,
		excerpt(texts[domain.PhaseOnset]),
		excerpt(texts[domain.PhasePeak]),
		excerpt(texts[domain.PhaseComedown]),
	)
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= excerptLimit {
		return s
	}
	return string(r[:excerptLimit]) + "..."
}
