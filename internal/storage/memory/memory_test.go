package memory

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/booksden/internal/storage"
	"pkt.systems/booksden/internal/storage/storagetest"
)

func TestMemoryBackendSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend { return New() })
}

func TestFindReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	books := store.Collection(storage.CollectionBooks)
	res, err := books.InsertOne(ctx, storage.Document{"book_name": "Dune"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	doc, err := books.FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	doc["book_name"] = "mutated"
	again, err := books.FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("find one again: %v", err)
	}
	if again["book_name"] != "Dune" {
		t.Fatalf("stored document was mutated through a read: %#v", again)
	}
}

func TestClosedStore(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed from ping, got %v", err)
	}
	if _, err := store.Collection(storage.CollectionBooks).Find(ctx, nil); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed from find, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Collection(storage.CollectionBooks).Find(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
