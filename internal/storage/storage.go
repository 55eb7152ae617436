package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/xid"
)

// IDField is the identifier field shared by every backend.
const IDField = "_id"

// Collection names used by booksden.
const (
	CollectionBooks      = "allBooks"
	CollectionBorrowed   = "borrowedBooks"
	CollectionGenres     = "genre"
	CollectionLibrarians = "librarians"
)

var (
	// ErrInvalidID is returned when an identifier is not a 24 character hex string.
	ErrInvalidID = errors.New("storage: invalid document id")
	// ErrInvalidCollection is returned for empty or path-like collection names.
	ErrInvalidCollection = errors.New("storage: invalid collection name")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("storage: backend closed")
)

// Document is a schemaless record. Values are JSON-compatible and the
// identifier lives under IDField as a 24 character hex string.
type Document map[string]any

// Filter selects documents by field equality. An empty filter matches every
// document in the collection.
type Filter map[string]any

// ByID returns a filter matching a single identifier.
func ByID(id string) Filter {
	return Filter{IDField: id}
}

// UpdateOptions tunes UpdateOne.
type UpdateOptions struct {
	// Upsert inserts a document built from the filter and the update
	// fields when nothing matches.
	Upsert bool
}

// InsertResult reports the outcome of InsertOne.
type InsertResult struct {
	InsertedID string
}

// UpdateResult reports the outcome of UpdateOne.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    string
}

// DeleteResult reports the outcome of DeleteOne.
type DeleteResult struct {
	DeletedCount int64
}

// Collection exposes the operations the HTTP surface maps onto.
// Implementations must be safe for concurrent use.
type Collection interface {
	// Find returns every document matching filter ordered by identifier.
	Find(ctx context.Context, filter Filter) ([]Document, error)
	// FindOne returns the first match or (nil, nil) when nothing matches.
	FindOne(ctx context.Context, filter Filter) (Document, error)
	// InsertOne stores doc, assigning an identifier when doc carries none.
	InsertOne(ctx context.Context, doc Document) (InsertResult, error)
	// UpdateOne applies set with $set semantics to the first match.
	UpdateOne(ctx context.Context, filter Filter, set Document, opts UpdateOptions) (UpdateResult, error)
	// DeleteOne removes the first match.
	DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error)
}

// Backend is a document database holding named collections.
type Backend interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewID returns a fresh 24 character hex identifier. xid shares the 12 byte
// time/machine/pid/counter layout of document database object ids, so ids
// minted by any backend sort by creation time.
func NewID() string {
	return hex.EncodeToString(xid.New().Bytes())
}

// ValidID reports whether id is a 24 character hex string.
func ValidID(id string) bool {
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// NormalizeID lower-cases id and validates it.
func NormalizeID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id, nil
}

// ValidateCollection rejects names that cannot be used as a collection.
func ValidateCollection(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) || strings.HasPrefix(name, "$") {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// Matches reports whether doc satisfies every equality in filter. A nil
// filter value matches a missing field.
func Matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two document values. Numbers compare by value
// regardless of their Go type.
func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Apply merges set into doc and reports whether any stored value changed.
// The identifier is never overwritten.
func Apply(doc Document, set Document) bool {
	changed := false
	for field, value := range set {
		if field == IDField {
			continue
		}
		if current, ok := doc[field]; ok && ValuesEqual(current, value) {
			continue
		}
		doc[field] = value
		changed = true
	}
	return changed
}

// UpsertDocument builds the document an upsert inserts: the filter's
// equality fields plus set. A fresh identifier is minted when the filter
// does not name one.
func UpsertDocument(filter Filter, set Document) Document {
	doc := make(Document, len(filter)+len(set)+1)
	for field, value := range filter {
		doc[field] = value
	}
	Apply(doc, set)
	if id, ok := doc[IDField].(string); !ok || id == "" {
		doc[IDField] = NewID()
	}
	return doc
}

// PrepareInsert copies doc and ensures it carries a valid identifier.
func PrepareInsert(doc Document) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	raw, ok := out[IDField]
	if !ok || raw == nil || raw == "" {
		out[IDField] = NewID()
		return out, nil
	}
	id, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, raw)
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}
	out[IDField] = norm
	return out, nil
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case Document:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// ID returns the identifier stored in d.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// SortByID orders docs by identifier.
func SortByID(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].ID() < docs[j].ID()
	})
}

// DuplicateKeyError is returned by InsertOne when the identifier is taken.
type DuplicateKeyError struct {
	Collection string
	ID         string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("storage: duplicate key %s in %s", e.ID, e.Collection)
}

// IsDuplicateKey reports whether err is a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}
