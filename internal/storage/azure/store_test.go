package azure

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"pkt.systems/booksden/internal/storage"
	"pkt.systems/booksden/internal/storage/storagetest"
)

const (
	testAccount = "devstoreaccount1"
	// Well-known Azurite development key.
	testAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// fakeBlobService speaks the subset of the Blob REST API the store uses,
// with Azurite-style /<account>/<container>/<blob> paths.
type fakeBlobService struct {
	mu         sync.Mutex
	containers map[string]map[string][]byte
	queries    []string
}

func newFakeBlobService() *fakeBlobService {
	return &fakeBlobService{containers: make(map[string]map[string][]byte)}
}

func (f *fakeBlobService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, r.URL.RawQuery)
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	if len(parts) < 2 || parts[0] != testAccount || parts[1] == "" {
		writeAzureError(w, http.StatusBadRequest, "InvalidUri")
		return
	}
	container := parts[1]
	if len(parts) == 2 || parts[2] == "" {
		f.serveContainer(w, r, container)
		return
	}
	f.serveBlob(w, r, container, parts[2])
}

func (f *fakeBlobService) serveContainer(w http.ResponseWriter, r *http.Request, container string) {
	q := r.URL.Query()
	if q.Get("restype") != "container" {
		writeAzureError(w, http.StatusBadRequest, "InvalidQueryParameterValue")
		return
	}
	blobs, exists := f.containers[container]
	switch {
	case r.Method == http.MethodPut:
		if exists {
			writeAzureError(w, http.StatusConflict, "ContainerAlreadyExists")
			return
		}
		f.containers[container] = make(map[string][]byte)
		w.WriteHeader(http.StatusCreated)
	case !exists:
		writeAzureError(w, http.StatusNotFound, "ContainerNotFound")
	case q.Get("comp") == "list":
		f.writeList(w, container, blobs, q.Get("prefix"))
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		writeAzureError(w, http.StatusMethodNotAllowed, "UnsupportedHttpVerb")
	}
}

func (f *fakeBlobService) serveBlob(w http.ResponseWriter, r *http.Request, container, name string) {
	blobs, ok := f.containers[container]
	if !ok {
		writeAzureError(w, http.StatusNotFound, "ContainerNotFound")
		return
	}
	switch r.Method {
	case http.MethodPut:
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			writeAzureError(w, http.StatusBadRequest, "InvalidInput")
			return
		}
		blobs[name] = payload
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		payload, ok := blobs[name]
		if !ok {
			writeAzureError(w, http.StatusNotFound, "BlobNotFound")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	case http.MethodDelete:
		if _, ok := blobs[name]; !ok {
			writeAzureError(w, http.StatusNotFound, "BlobNotFound")
			return
		}
		delete(blobs, name)
		w.WriteHeader(http.StatusAccepted)
	default:
		writeAzureError(w, http.StatusMethodNotAllowed, "UnsupportedHttpVerb")
	}
}

type listBlob struct {
	Name string `xml:"Name"`
}

type listResult struct {
	XMLName       xml.Name   `xml:"EnumerationResults"`
	ContainerName string     `xml:"ContainerName,attr"`
	Prefix        string     `xml:"Prefix"`
	Blobs         []listBlob `xml:"Blobs>Blob"`
}

func (f *fakeBlobService) writeList(w http.ResponseWriter, container string, blobs map[string][]byte, prefix string) {
	result := listResult{ContainerName: container, Prefix: prefix}
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		result.Blobs = append(result.Blobs, listBlob{Name: name})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

func (f *fakeBlobService) blobNames(container string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.containers[container] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *fakeBlobService) sawQuery(fragment string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queries {
		if strings.Contains(q, fragment) {
			return true
		}
	}
	return false
}

func writeAzureError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}

func setupFakeAzure(t *testing.T) (Config, *fakeBlobService) {
	t.Helper()
	fake := newFakeBlobService()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return Config{
		Account:    testAccount,
		AccountKey: testAccountKey,
		Endpoint:   server.URL + "/" + testAccount,
		Container:  "booksden-test",
		Prefix:     "library",
	}, fake
}

func TestAzureBackendSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		cfg, _ := setupFakeAzure(t)
		store, err := New(context.Background(), cfg)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return store
	})
}

func TestBlobLayout(t *testing.T) {
	cfg, fake := setupFakeAzure(t)
	ctx := context.Background()
	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	res, err := store.Collection(storage.CollectionBooks).InsertOne(ctx, storage.Document{"book_name": "Dune"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	want := "library/allBooks/" + res.InsertedID + ".json"
	names := fake.blobNames(cfg.Container)
	if len(names) != 1 || names[0] != want {
		t.Fatalf("expected blob %q, got %v", want, names)
	}
}

func TestNewTwiceReusesContainer(t *testing.T) {
	cfg, _ := setupFakeAzure(t)
	ctx := context.Background()
	first, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	res, err := first.Collection(storage.CollectionUsers).InsertOne(ctx, storage.Document{"email": "a@example.com"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen over existing container: %v", err)
	}
	doc, err := second.Collection(storage.CollectionUsers).FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if doc["email"] != "a@example.com" {
		t.Fatalf("unexpected document %v", doc)
	}
}

func TestGetDeleteMissingBlob(t *testing.T) {
	cfg, _ := setupFakeAzure(t)
	ctx := context.Background()
	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id := storage.NewID()
	if _, err := store.Get(ctx, storage.CollectionBooks, id); err != storage.ErrBlobNotFound {
		t.Fatalf("expected ErrBlobNotFound from Get, got %v", err)
	}
	if err := store.Delete(ctx, storage.CollectionBooks, id); err != storage.ErrBlobNotFound {
		t.Fatalf("expected ErrBlobNotFound from Delete, got %v", err)
	}
}

func TestPingMissingContainer(t *testing.T) {
	cfg, _ := setupFakeAzure(t)
	cfg.Container = "missing"
	store, err := newStore(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error for missing container")
	}
}

func TestSASTokenSentWithRequests(t *testing.T) {
	cfg, fake := setupFakeAzure(t)
	cfg.AccountKey = ""
	cfg.SASToken = "?sv=2022-11-02&sig=booksden"
	ctx := context.Background()
	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !fake.sawQuery("sig=booksden") {
		t.Fatalf("expected SAS signature on requests")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"account":     {Container: "c", AccountKey: testAccountKey},
		"container":   {Account: testAccount, AccountKey: testAccountKey},
		"credentials": {Account: testAccount, Container: "c"},
	}
	for name, cfg := range cases {
		if _, err := newStore(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDefaultEndpoint(t *testing.T) {
	store, err := newStore(Config{Account: "acct", AccountKey: testAccountKey, Container: "c"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := store.Endpoint(); got != "https://acct.blob.core.windows.net" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
