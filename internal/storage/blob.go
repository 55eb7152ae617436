package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrBlobNotFound is returned by BlobStore.Get for unknown documents.
var ErrBlobNotFound = errors.New("storage: blob not found")

// BlobStore persists one encoded document per (collection, id). The disk and
// object-store backends implement it and share BlobCollection for query
// semantics.
type BlobStore interface {
	ListIDs(ctx context.Context, collection string) ([]string, error)
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, payload []byte) error
	Delete(ctx context.Context, collection, id string) error
}

// BlobCollections hands out BlobCollection values that share one writer
// lock per collection name.
type BlobCollections struct {
	blobs BlobStore
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBlobCollections wraps blobs.
func NewBlobCollections(blobs BlobStore) *BlobCollections {
	return &BlobCollections{blobs: blobs, locks: make(map[string]*sync.Mutex)}
}

// Collection returns the named collection.
func (b *BlobCollections) Collection(name string) Collection {
	b.mu.Lock()
	lock, ok := b.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[name] = lock
	}
	b.mu.Unlock()
	return &BlobCollection{blobs: b.blobs, name: name, mu: lock}
}

// BlobCollection implements Collection over a BlobStore. Writes within one
// process are serialised per collection.
type BlobCollection struct {
	blobs BlobStore
	name  string
	mu    *sync.Mutex
}

func (c *BlobCollection) load(ctx context.Context, id string) (Document, error) {
	payload, err := c.blobs.Get(ctx, c.name, id)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode %s/%s: %w", c.name, id, err)
	}
	if doc == nil {
		return nil, nil
	}
	doc[IDField] = id
	return doc, nil
}

func (c *BlobCollection) save(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", c.name, doc.ID(), err)
	}
	return c.blobs.Put(ctx, c.name, doc.ID(), payload)
}

func (c *BlobCollection) scan(ctx context.Context, filter Filter, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateCollection(c.name); err != nil {
		return nil, err
	}
	if raw, ok := filter[IDField]; ok {
		id, isString := raw.(string)
		if !isString || !ValidID(id) {
			return nil, nil
		}
		doc, err := c.load(ctx, id)
		if err != nil || doc == nil || !Matches(doc, filter) {
			return nil, err
		}
		return []Document{doc}, nil
	}
	ids, err := c.blobs.ListIDs(ctx, c.name)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil || !Matches(doc, filter) {
			continue
		}
		out = append(out, doc)
	}
	SortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *BlobCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	docs, err := c.scan(ctx, filter, 0)
	if docs == nil && err == nil {
		docs = []Document{}
	}
	return docs, err
}

func (c *BlobCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	docs, err := c.scan(ctx, filter, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (c *BlobCollection) InsertOne(ctx context.Context, doc Document) (InsertResult, error) {
	if err := ValidateCollection(c.name); err != nil {
		return InsertResult{}, err
	}
	prepared, err := PrepareInsert(doc)
	if err != nil {
		return InsertResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, err := c.load(ctx, prepared.ID())
	if err != nil {
		return InsertResult{}, err
	}
	if existing != nil {
		return InsertResult{}, &DuplicateKeyError{Collection: c.name, ID: prepared.ID()}
	}
	if err := c.save(ctx, prepared); err != nil {
		return InsertResult{}, err
	}
	return InsertResult{InsertedID: prepared.ID()}, nil
}

func (c *BlobCollection) UpdateOne(ctx context.Context, filter Filter, set Document, opts UpdateOptions) (UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs, err := c.scan(ctx, filter, 1)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(docs) == 0 {
		if !opts.Upsert {
			return UpdateResult{}, nil
		}
		doc := UpsertDocument(filter, set.Clone())
		if !ValidID(doc.ID()) {
			return UpdateResult{}, fmt.Errorf("%w: %q", ErrInvalidID, doc.ID())
		}
		if err := c.save(ctx, doc); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{UpsertedCount: 1, UpsertedID: doc.ID()}, nil
	}
	doc := docs[0]
	res := UpdateResult{MatchedCount: 1}
	if Apply(doc, set.Clone()) {
		if err := c.save(ctx, doc); err != nil {
			return UpdateResult{}, err
		}
		res.ModifiedCount = 1
	}
	return res, nil
}

func (c *BlobCollection) DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs, err := c.scan(ctx, filter, 1)
	if err != nil || len(docs) == 0 {
		return DeleteResult{}, err
	}
	if err := c.blobs.Delete(ctx, c.name, docs[0].ID()); err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return DeleteResult{}, nil
		}
		return DeleteResult{}, err
	}
	return DeleteResult{DeletedCount: 1}, nil
}
