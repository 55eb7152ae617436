package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/authtoken"
	"pkt.systems/booksden/internal/httpapi"
	"pkt.systems/booksden/internal/storage/memory"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	tokens, err := authtoken.New(authtoken.Config{Secret: authtoken.StaticSecret("client-test")})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	store := memory.New()
	h, err := httpapi.New(httpapi.Config{Store: store, Tokens: tokens, DisableHTTPTracing: true})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close(context.Background())
	})
	cli, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return cli
}

func TestNewValidatesBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	cli, err := New("127.0.0.1:5000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.BaseURL() != "http://127.0.0.1:5000" {
		t.Fatalf("unexpected base url %q", cli.BaseURL())
	}
	if cli.httpClient.Jar == nil {
		t.Fatalf("expected cookie jar")
	}
	custom := &http.Client{}
	cli, err = New("http://localhost", WithHTTPClient(custom))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if custom.Jar != nil {
		t.Fatalf("caller's http client was mutated")
	}
	if cli.httpClient.Jar == nil {
		t.Fatalf("expected jar on copied client")
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	ctx := context.Background()
	cli := newTestClient(t)
	if err := cli.Healthy(ctx); err != nil {
		t.Fatalf("healthy: %v", err)
	}
	if err := cli.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	res, err := cli.CreateBook(ctx, api.Book{BookName: "Solaris", Genre: "Science Fiction", BookNumbers: 2, Author: "Stanisław Lem"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	book, err := cli.GetBook(ctx, res.InsertedID)
	if err != nil || book == nil {
		t.Fatalf("get: %v %v", book, err)
	}
	if book.Author != "Stanisław Lem" {
		t.Fatalf("unexpected book %+v", book)
	}
	if upd, err := cli.UpdateStock(ctx, res.InsertedID, 0); err != nil || upd.ModifiedCount != 1 {
		t.Fatalf("stock: %+v %v", upd, err)
	}
	name, genre, author, stock, rating := "Solaris", "Science Fiction", "Stanisław Lem", 0, 4.0
	replacement := api.BookUpdate{BookName: &name, Genre: &genre, Author: &author, BookNumbers: &stock, Rating: &rating}
	if upd, err := cli.ReplaceBook(ctx, res.InsertedID, replacement); err != nil || upd.MatchedCount != 1 {
		t.Fatalf("replace: %+v %v", upd, err)
	}
	books, err := cli.BooksByGenre(ctx, "Science Fiction")
	if err != nil || len(books) != 1 || books[0].Rating != 4 || books[0].BookNumbers != 0 {
		t.Fatalf("by genre: %+v %v", books, err)
	}
	if del, err := cli.DeleteBook(ctx, res.InsertedID); err != nil || del.DeletedCount != 1 {
		t.Fatalf("delete: %+v %v", del, err)
	}
	if book, err := cli.GetBook(ctx, res.InsertedID); err != nil || book != nil {
		t.Fatalf("expected nil after delete, got %+v %v", book, err)
	}
	all, err := cli.ListBooks(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("list: %+v %v", all, err)
	}
	genres, err := cli.ListGenres(ctx)
	if err != nil || genres == nil || len(genres) != 0 {
		t.Fatalf("genres: %+v %v", genres, err)
	}
}

func TestLibrarians(t *testing.T) {
	ctx := context.Background()
	cli := newTestClient(t)
	if _, err := cli.CreateLibrarian(ctx, api.Librarian{Email: "lib@x.com", Name: "Ada"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	lib, err := cli.GetLibrarian(ctx, "lib@x.com")
	if err != nil || lib == nil || lib.Name != "Ada" {
		t.Fatalf("get: %+v %v", lib, err)
	}
	list, err := cli.ListLibrarians(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}
}

func TestBorrowedOfRequiresLogin(t *testing.T) {
	ctx := context.Background()
	cli := newTestClient(t, WithCorrelationID("client-test"))
	for _, email := range []string{"a@x.com", "b@x.com"} {
		if _, err := cli.CreateBorrowed(ctx, api.BorrowedBook{Email: email, BookName: "Dune"}); err != nil {
			t.Fatalf("borrow: %v", err)
		}
	}
	if _, err := cli.BorrowedOf(ctx, "a@x.com"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
	if err := cli.Login(ctx, "a@x.com"); err != nil {
		t.Fatalf("login: %v", err)
	}
	records, err := cli.BorrowedOf(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("borrowed of: %v", err)
	}
	if len(records) != 1 || records[0].Email != "a@x.com" {
		t.Fatalf("unexpected records %+v", records)
	}
	_, err = cli.BorrowedOf(ctx, "b@x.com")
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Response.ErrorCode != api.ErrorForbidden {
		t.Fatalf("unexpected error envelope %v", err)
	}

	rec, err := cli.GetBorrowed(ctx, records[0].ID)
	if err != nil || rec == nil {
		t.Fatalf("get borrowed: %+v %v", rec, err)
	}
	mine, err := cli.ListBorrowed(ctx, "a@x.com")
	if err != nil || len(mine) != 1 {
		t.Fatalf("list borrowed: %+v %v", mine, err)
	}
	if del, err := cli.DeleteBorrowed(ctx, records[0].ID); err != nil || del.DeletedCount != 1 {
		t.Fatalf("delete borrowed: %+v %v", del, err)
	}

	if err := cli.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := cli.BorrowedOf(ctx, "a@x.com"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func TestInvalidIDError(t *testing.T) {
	cli := newTestClient(t)
	_, err := cli.GetBook(context.Background(), "nope")
	if !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400, got %v", err)
	}
	if err.Error() == "" {
		t.Fatalf("expected message")
	}
}
