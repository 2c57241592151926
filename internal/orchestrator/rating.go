package orchestrator

import (
	"math"
	"strings"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/tidwall/gjson"
)

// ParseRating extracts a rating from a model reply. Each field is validated
// on its own; a bad or missing field falls back to its default without
// discarding the others. Code fences and prose around the object are ignored.
func ParseRating(reply string) domain.Rating {
	rating := domain.DefaultRating()

	obj := extractObject(reply)
	if obj == "" {
		return rating
	}
	res := gjson.Parse(obj)

	if v := res.Get("rating"); v.Type == gjson.Number {
		rating.Rating = clampRating(v.Float())
	}
	if v := res.Get("would_repeat"); v.IsBool() {
		rating.WouldRepeat = v.Bool()
	}
	if v := res.Get("summary"); v.Type == gjson.String {
		if s := strings.TrimSpace(v.String()); s != "" {
			rating.Summary = s
		}
	}
	return rating
}

// extractObject returns the outermost {...} span of s if it is valid JSON.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	obj := s[start : end+1]
	if !gjson.Valid(obj) {
		return ""
	}
	return obj
}

func clampRating(f float64) int {
	if math.IsNaN(f) {
		return domain.DefaultRatingValue
	}
	return int(math.Round(math.Max(math.Min(f, domain.MaxRating), domain.MinRating)))
}
