package httpapi

import (
	"net/http"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/storage"
)

func (h *Handler) borrowed() storage.Collection {
	return h.store.Collection(storage.CollectionBorrowed)
}

func (h *Handler) listBorrowed(w http.ResponseWriter, r *http.Request, filter storage.Filter) error {
	docs, err := h.borrowed().Find(r.Context(), filter)
	if err != nil {
		return err
	}
	records, err := fromDocuments[api.BorrowedBook](docs)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, records, nil)
	return nil
}

// handleListBorrowed lists every record, or only the borrower's when the
// email query parameter is present.
func (h *Handler) handleListBorrowed(w http.ResponseWriter, r *http.Request) error {
	filter := storage.Filter{}
	if email := r.URL.Query().Get("email"); email != "" {
		filter["email"] = email
	}
	return h.listBorrowed(w, r, filter)
}

func (h *Handler) handleBorrowedOf(w http.ResponseWriter, r *http.Request) error {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return errUnauthorized
	}
	return h.listBorrowed(w, r, storage.Filter{"email": id.Email})
}

func (h *Handler) handleGetBorrowed(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	doc, err := h.borrowed().FindOne(r.Context(), storage.ByID(id))
	if err != nil {
		return err
	}
	record, err := fromDocument[api.BorrowedBook](doc)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, record, nil)
	return nil
}

func (h *Handler) handleCreateBorrowed(w http.ResponseWriter, r *http.Request) error {
	var record api.BorrowedBook
	if err := h.decodeBody(w, r, &record); err != nil {
		return err
	}
	return h.insert(w, r, h.borrowed(), record)
}

func (h *Handler) handleDeleteBorrowed(w http.ResponseWriter, r *http.Request) error {
	return h.deleteByID(w, r, h.borrowed())
}
