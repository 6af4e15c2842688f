package journals

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/journals", h.List)
	r.Get("/journals/{id}", h.Show)
	r.Get("/trial-balance", h.TrialBalance)
}
