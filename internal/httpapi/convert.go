package httpapi

import (
	"encoding/json"
	"fmt"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/storage"
)

// toDocument converts a typed payload into a storable document.
func toDocument(v any) (storage.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("httpapi: encode document: %w", err)
	}
	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("httpapi: encode document: %w", err)
	}
	return doc, nil
}

// fromDocument decodes a stored document into T. A nil document yields nil.
func fromDocument[T any](doc storage.Document) (*T, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("httpapi: decode document: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("httpapi: decode document %s: %w", doc.ID(), err)
	}
	return out, nil
}

// fromDocuments decodes a list, always returning a non-nil slice.
func fromDocuments[T any](docs []storage.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := fromDocument[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func insertResult(res storage.InsertResult) api.InsertResult {
	return api.InsertResult{Acknowledged: true, InsertedID: res.InsertedID}
}

func updateResult(res storage.UpdateResult) api.UpdateResult {
	out := api.UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}
	if res.UpsertedID != "" {
		id := res.UpsertedID
		out.UpsertedID = &id
	}
	return out
}

func deleteResult(res storage.DeleteResult) api.DeleteResult {
	return api.DeleteResult{Acknowledged: true, DeletedCount: res.DeletedCount}
}

// replaceSet builds the $set document for PUT /book/update/{id}. Every
// editable field is written so the stored book matches the request; absent
// fields become null.
func replaceSet(u api.BookUpdate) storage.Document {
	return storage.Document{
		"image":             valueOrNil(u.Image),
		"book_name":         valueOrNil(u.BookName),
		"genre":             valueOrNil(u.Genre),
		"book_numbers":      valueOrNil(u.BookNumbers),
		"short_description": valueOrNil(u.ShortDescription),
		"author":            valueOrNil(u.Author),
		"rating":            valueOrNil(u.Rating),
	}
}

func valueOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
