// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"pkt.systems/booksden/internal/storage"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run exercises backend semantics relied on by the HTTP handlers.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"InsertFindOne", testInsertFindOne},
		{"FindOneMissingReturnsNil", testFindOneMissing},
		{"FindFilters", testFindFilters},
		{"FindEmptyCollection", testFindEmpty},
		{"UpdateOneSet", testUpdateOneSet},
		{"UpdateOneUpsert", testUpdateOneUpsert},
		{"UpdateOneNoMatch", testUpdateOneNoMatch},
		{"DeleteOne", testDeleteOne},
		{"DuplicateInsert", testDuplicateInsert},
		{"CollectionsAreIsolated", testCollectionsIsolated},
		{"ConcurrentInserts", testConcurrentInserts},
		{"Ping", testPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := factory(t)
			t.Cleanup(func() { _ = b.Close(context.Background()) })
			tc.fn(t, b)
		})
	}
}

func book(name, genre string, count int) storage.Document {
	return storage.Document{
		"book_name":    name,
		"genre":        genre,
		"book_numbers": count,
		"author":       "Anon",
	}
}

func testInsertFindOne(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	books := b.Collection(storage.CollectionBooks)
	res, err := books.InsertOne(ctx, book("Dune", "Science Fiction", 3))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !storage.ValidID(res.InsertedID) {
		t.Fatalf("expected generated id, got %q", res.InsertedID)
	}
	doc, err := books.FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected document")
	}
	if doc.ID() != res.InsertedID || doc["book_name"] != "Dune" {
		t.Fatalf("unexpected document %#v", doc)
	}
	if !storage.ValuesEqual(doc["book_numbers"], 3) {
		t.Fatalf("unexpected book_numbers %#v", doc["book_numbers"])
	}
}

func testFindOneMissing(t *testing.T, b storage.Backend) {
	doc, err := b.Collection(storage.CollectionBooks).FindOne(context.Background(), storage.ByID(storage.NewID()))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %#v", doc)
	}
}

func testFindFilters(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	books := b.Collection(storage.CollectionBooks)
	var ids []string
	for _, d := range []storage.Document{
		book("Dune", "Science Fiction", 1),
		book("Emma", "Romance", 2),
		book("Solaris", "Science Fiction", 3),
	} {
		res, err := books.InsertOne(ctx, d)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, res.InsertedID)
	}
	all, err := books.Find(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 books, got %d", len(all))
	}
	for i, doc := range all {
		if doc.ID() != ids[i] {
			t.Fatalf("expected insertion order, got %s at %d", doc.ID(), i)
		}
	}
	scifi, err := books.Find(ctx, storage.Filter{"genre": "Science Fiction"})
	if err != nil {
		t.Fatalf("find genre: %v", err)
	}
	if len(scifi) != 2 {
		t.Fatalf("expected 2 science fiction books, got %d", len(scifi))
	}
	for _, doc := range scifi {
		if doc["genre"] != "Science Fiction" {
			t.Fatalf("filter leaked %#v", doc)
		}
	}
	none, err := books.Find(ctx, storage.Filter{"genre": "Horror"})
	if err != nil {
		t.Fatalf("find none: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func testFindEmpty(t *testing.T, b storage.Backend) {
	docs, err := b.Collection(storage.CollectionGenres).Find(context.Background(), nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", docs)
	}
}

func testUpdateOneSet(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	books := b.Collection(storage.CollectionBooks)
	res, err := books.InsertOne(ctx, book("Dune", "Science Fiction", 5))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	upd, err := books.UpdateOne(ctx, storage.ByID(res.InsertedID), storage.Document{"book_numbers": 4}, storage.UpdateOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.MatchedCount != 1 || upd.ModifiedCount != 1 || upd.UpsertedCount != 0 {
		t.Fatalf("unexpected update result %+v", upd)
	}
	again, err := books.UpdateOne(ctx, storage.ByID(res.InsertedID), storage.Document{"book_numbers": 4}, storage.UpdateOptions{})
	if err != nil {
		t.Fatalf("update again: %v", err)
	}
	if again.MatchedCount != 1 || again.ModifiedCount != 0 {
		t.Fatalf("expected unchanged update, got %+v", again)
	}
	doc, err := books.FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if !storage.ValuesEqual(doc["book_numbers"], 4) || doc["book_name"] != "Dune" {
		t.Fatalf("unexpected document after update %#v", doc)
	}
}

func testUpdateOneUpsert(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	books := b.Collection(storage.CollectionBooks)
	id := storage.NewID()
	upd, err := books.UpdateOne(ctx, storage.ByID(id), storage.Document{"book_name": "Emma"}, storage.UpdateOptions{Upsert: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if upd.MatchedCount != 0 || upd.UpsertedCount != 1 || upd.UpsertedID != id {
		t.Fatalf("unexpected upsert result %+v", upd)
	}
	doc, err := books.FindOne(ctx, storage.ByID(id))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if doc == nil || doc["book_name"] != "Emma" {
		t.Fatalf("unexpected upserted document %#v", doc)
	}
}

func testUpdateOneNoMatch(t *testing.T, b storage.Backend) {
	upd, err := b.Collection(storage.CollectionBooks).UpdateOne(context.Background(), storage.ByID(storage.NewID()), storage.Document{"book_numbers": 1}, storage.UpdateOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd != (storage.UpdateResult{}) {
		t.Fatalf("expected zero result, got %+v", upd)
	}
}

func testDeleteOne(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	borrowed := b.Collection(storage.CollectionBorrowed)
	res, err := borrowed.InsertOne(ctx, storage.Document{"email": "a@x.com", "book_name": "Dune"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	del, err := borrowed.DeleteOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if del.DeletedCount != 1 {
		t.Fatalf("expected 1 deleted, got %+v", del)
	}
	del, err = borrowed.DeleteOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if del.DeletedCount != 0 {
		t.Fatalf("expected 0 deleted, got %+v", del)
	}
}

func testDuplicateInsert(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	genres := b.Collection(storage.CollectionGenres)
	id := storage.NewID()
	if _, err := genres.InsertOne(ctx, storage.Document{storage.IDField: id, "name": "Fiction"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := genres.InsertOne(ctx, storage.Document{storage.IDField: id, "name": "Poetry"})
	if !storage.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func testCollectionsIsolated(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	if _, err := b.Collection(storage.CollectionGenres).InsertOne(ctx, storage.Document{"name": "Fiction"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	docs, err := b.Collection(storage.CollectionLibrarians).Find(ctx, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected isolated collections, got %d docs", len(docs))
	}
}

func testConcurrentInserts(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	librarians := b.Collection(storage.CollectionLibrarians)
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := librarians.InsertOne(ctx, storage.Document{"email": "lib@x.com"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}
	docs, err := librarians.Find(ctx, storage.Filter{"email": "lib@x.com"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != workers {
		t.Fatalf("expected %d documents, got %d", workers, len(docs))
	}
}

func testPing(t *testing.T, b storage.Backend) {
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
