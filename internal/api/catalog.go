package api

import (
	"net/http"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/scenario"
)

// ListSubstances returns the scenario catalog, optionally narrowed by ?category=.
func (h *Handler) ListSubstances(w http.ResponseWriter, r *http.Request) {
	list := h.catalog.List()
	if c := r.URL.Query().Get("category"); c != "" {
		cat := domain.Category(c)
		if !cat.IsValid() {
			Error(w, http.StatusBadRequest, "unknown category")
			return
		}
		list = h.catalog.ByCategory(cat)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"substances": list})
}

type modelView struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Label     string `json:"label"`
	Available bool   `json:"available"`
	Default   bool   `json:"default,omitempty"`
}

// ListModels returns selectable models and whether their provider is configured.
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := scenario.Models()
	out := make([]modelView, 0, len(models))
	for _, m := range models {
		out = append(out, modelView{
			ID:        m.ID(),
			Provider:  m.Provider,
			Model:     m.Name,
			Label:     m.Label,
			Available: h.providers != nil && h.providers.IsConfigured(m.Provider),
			Default:   m.ID() == h.opts.DefaultModel,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"models": out})
}
