// Package booksden exposes the Go APIs behind the Bookersden library service:
// a small HTTP gateway that performs CRUD on a document store (books,
// borrowed-book records, genres and librarians) and issues short-lived signed
// credentials in an HTTP-only cookie.
//
// # Running a server
//
//	cfg := booksden.Config{
//	    Listen:      ":5000",
//	    Store:       "mongodb+srv://cluster0.example.net/?retryWrites=true",
//	    DBUser:      os.Getenv("DB_USER"),
//	    DBPass:      os.Getenv("DB_PASS"),
//	    TokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
//	    Mode:        booksden.ModeProduction,
//	}
//	srv, err := booksden.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("booksden: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// # Stores
//
// Config.Store selects the backend by URL scheme:
//
//   - mongodb:// and mongodb+srv:// use MongoDB (database Config.Database,
//     default "booksden"). DBUser and DBPass override URL credentials.
//   - mem:// keeps documents in process memory.
//   - disk:///var/lib/booksden stores one JSON file per document.
//   - s3://host[:port]/bucket[/prefix] stores one object per document on any
//     S3-compatible service. Query parameters insecure=true, path-style=true
//     and region=... tune the client.
//   - azure://account/container[/prefix] stores one blob per document in Azure
//     Blob Storage. Query parameters endpoint=... and sas=... override the
//     AzureEndpoint and AzureSASToken settings.
//
// Non-MongoDB backends mint 24 character hex ids so URLs look the same
// regardless of the store.
//
// # Credentials
//
// POST /jwt signs an HS256 token for the posted email and stores it in the
// HTTP-only "token" cookie for Config.TokenTTL (default 24h). Only
// GET /borrowed-books-of requires it, and only for the matching email query
// parameter. Config.TokenSecretFile is watched and reloaded on change, which
// invalidates tokens signed with the previous secret.
//
// # Embedding and tests
//
// StartServer runs a server in the background and returns a stop function.
// StartTestServer wraps it for tests with an in-memory store and a client
// from package client.
package booksden
