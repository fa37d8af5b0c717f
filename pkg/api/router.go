package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetRouter initialises a new http router and applies all routes
func GetRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	return applyRoutes(r, h)
}

func applyRoutes(r chi.Router, h *Handler) chi.Router {
	r.Get("/healthz", h.getHealth)
	r.Post("/users", h.register)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.listBooks)
			r.Post("/", h.createBook)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getBook)
				r.Patch("/", h.patchBook)
				r.Delete("/", h.deleteBook)
				r.Get("/notes", h.listEntries(SheetNotes, "notes"))
				r.Get("/highlights", h.listEntries(SheetHighlights, "highlights"))
			})
		})
		r.Post("/notes", h.createEntry(SheetNotes, "note"))
		r.Post("/highlights", h.createEntry(SheetHighlights, "highlight"))

		r.Get("/shelves", h.listShelves)
		r.Post("/shelves", h.createShelf)
	})

	return r
}
