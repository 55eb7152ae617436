package httpapi

import (
	"net/http"
	"strings"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/storage"
)

func (h *Handler) handleListGenres(w http.ResponseWriter, r *http.Request) error {
	docs, err := h.store.Collection(storage.CollectionGenres).Find(r.Context(), storage.Filter{})
	if err != nil {
		return err
	}
	genres, err := fromDocuments[api.Genre](docs)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, genres, nil)
	return nil
}

func (h *Handler) handleCreateLibrarian(w http.ResponseWriter, r *http.Request) error {
	var librarian api.Librarian
	if err := h.decodeBody(w, r, &librarian); err != nil {
		return err
	}
	librarian.Email = strings.TrimSpace(librarian.Email)
	if librarian.Email == "" {
		return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidBody, Detail: "email required"}
	}
	return h.insert(w, r, h.store.Collection(storage.CollectionLibrarians), librarian)
}

func (h *Handler) handleListLibrarians(w http.ResponseWriter, r *http.Request) error {
	docs, err := h.store.Collection(storage.CollectionLibrarians).Find(r.Context(), storage.Filter{})
	if err != nil {
		return err
	}
	librarians, err := fromDocuments[api.Librarian](docs)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, librarians, nil)
	return nil
}

func (h *Handler) handleGetLibrarian(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.store.Collection(storage.CollectionLibrarians).FindOne(r.Context(), storage.Filter{"email": r.PathValue("email")})
	if err != nil {
		return err
	}
	librarian, err := fromDocument[api.Librarian](doc)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, librarian, nil)
	return nil
}
