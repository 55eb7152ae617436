package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/storage"
)

func (h *Handler) books() storage.Collection {
	return h.store.Collection(storage.CollectionBooks)
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) error {
	docs, err := h.books().Find(r.Context(), storage.Filter{})
	if err != nil {
		return err
	}
	books, err := fromDocuments[api.Book](docs)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, books, nil)
	return nil
}

func (h *Handler) handleCreateBook(w http.ResponseWriter, r *http.Request) error {
	var book api.Book
	if err := h.decodeBody(w, r, &book); err != nil {
		return err
	}
	return h.insert(w, r, h.books(), book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	doc, err := h.books().FindOne(r.Context(), storage.ByID(id))
	if err != nil {
		return err
	}
	book, err := fromDocument[api.Book](doc)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, book, nil)
	return nil
}

func (h *Handler) handlePatchStock(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var payload api.StockUpdate
	if err := h.decodeBody(w, r, &payload); err != nil {
		return err
	}
	// An absent count is rejected instead of storing a null stock.
	if payload.BookNumbers == nil {
		return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidBody, Detail: "book_numbers required"}
	}
	res, err := h.books().UpdateOne(r.Context(), storage.ByID(id), storage.Document{"book_numbers": *payload.BookNumbers}, storage.UpdateOptions{})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, updateResult(res), nil)
	return nil
}

func (h *Handler) handleReplaceBook(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var payload api.BookUpdate
	if err := h.decodeBody(w, r, &payload); err != nil {
		return err
	}
	res, err := h.books().UpdateOne(r.Context(), storage.ByID(id), replaceSet(payload), storage.UpdateOptions{Upsert: true})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, updateResult(res), nil)
	return nil
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) error {
	return h.deleteByID(w, r, h.books())
}

func (h *Handler) handleBooksByGenre(w http.ResponseWriter, r *http.Request) error {
	docs, err := h.books().Find(r.Context(), storage.Filter{"genre": r.PathValue("name")})
	if err != nil {
		return err
	}
	books, err := fromDocuments[api.Book](docs)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, books, nil)
	return nil
}

// insert stores payload in coll and writes the insert result.
func (h *Handler) insert(w http.ResponseWriter, r *http.Request, coll storage.Collection, payload any) error {
	doc, err := toDocument(payload)
	if err != nil {
		return err
	}
	res, err := coll.InsertOne(r.Context(), doc)
	if err != nil {
		return storeError(err)
	}
	h.writeJSON(w, http.StatusOK, insertResult(res), nil)
	return nil
}

// deleteByID removes the {id} document from coll. Missing ids report zero
// deletions rather than an error.
func (h *Handler) deleteByID(w http.ResponseWriter, r *http.Request, coll storage.Collection) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(r.Context(), storage.ByID(id))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, deleteResult(res), nil)
	return nil
}

func storeError(err error) error {
	var dup *storage.DuplicateKeyError
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidID, Detail: err.Error()}
	case errors.As(err, &dup):
		return httpError{Status: http.StatusConflict, Code: api.ErrorDuplicateID, Detail: fmt.Sprintf("document %s already exists", dup.ID)}
	default:
		return err
	}
}
