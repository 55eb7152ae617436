package memory

import (
	"context"
	"sync"

	"pkt.systems/booksden/internal/storage"
)

// Store implements storage.Backend in-memory; intended for tests and local dev.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

type collection struct {
	store *Store
	name  string
	mu    sync.RWMutex
	docs  map[string]storage.Document
}

// New returns a ready to use in-memory store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) storage.Collection {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.collections[name]; ok {
		return c
	}
	c = &collection{store: s, name: name, docs: make(map[string]storage.Document)}
	s.collections[name] = c
	return c
}

// Ping reports ErrClosed after Close.
func (s *Store) Ping(context.Context) error {
	return s.check()
}

// Close drops every collection.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = make(map[string]*collection)
	return nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func (c *collection) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateCollection(c.name); err != nil {
		return err
	}
	return c.store.check()
}

// matchesLocked returns the matching documents ordered by id; callers hold c.mu.
func (c *collection) matchesLocked(filter storage.Filter, limit int) []storage.Document {
	if id, ok := filter[storage.IDField].(string); ok {
		doc, found := c.docs[id]
		if !found || !storage.Matches(doc, filter) {
			return nil
		}
		return []storage.Document{doc}
	}
	var out []storage.Document
	for _, doc := range c.docs {
		if storage.Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	storage.SortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *collection) Find(ctx context.Context, filter storage.Filter) ([]storage.Document, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := c.matchesLocked(filter, 0)
	out := make([]storage.Document, 0, len(matches))
	for _, doc := range matches {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (c *collection) FindOne(ctx context.Context, filter storage.Filter) (storage.Document, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := c.matchesLocked(filter, 1)
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0].Clone(), nil
}

func (c *collection) InsertOne(ctx context.Context, doc storage.Document) (storage.InsertResult, error) {
	if err := c.ready(ctx); err != nil {
		return storage.InsertResult{}, err
	}
	prepared, err := storage.PrepareInsert(doc)
	if err != nil {
		return storage.InsertResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := prepared.ID()
	if _, exists := c.docs[id]; exists {
		return storage.InsertResult{}, &storage.DuplicateKeyError{Collection: c.name, ID: id}
	}
	c.docs[id] = prepared
	return storage.InsertResult{InsertedID: id}, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter storage.Filter, set storage.Document, opts storage.UpdateOptions) (storage.UpdateResult, error) {
	if err := c.ready(ctx); err != nil {
		return storage.UpdateResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	matches := c.matchesLocked(filter, 1)
	if len(matches) == 0 {
		if !opts.Upsert {
			return storage.UpdateResult{}, nil
		}
		doc := storage.UpsertDocument(filter, set.Clone())
		c.docs[doc.ID()] = doc
		return storage.UpdateResult{UpsertedCount: 1, UpsertedID: doc.ID()}, nil
	}
	res := storage.UpdateResult{MatchedCount: 1}
	if storage.Apply(matches[0], set.Clone()) {
		res.ModifiedCount = 1
	}
	return res, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter storage.Filter) (storage.DeleteResult, error) {
	if err := c.ready(ctx); err != nil {
		return storage.DeleteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	matches := c.matchesLocked(filter, 1)
	if len(matches) == 0 {
		return storage.DeleteResult{}, nil
	}
	delete(c.docs, matches[0].ID())
	return storage.DeleteResult{DeletedCount: 1}, nil
}
