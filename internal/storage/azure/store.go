package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"pkt.systems/booksden/internal/storage"
)

const (
	docSuffix   = ".json"
	contentType = "application/json"
)

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	// Endpoint overrides https://<account>.blob.core.windows.net (Azurite,
	// sovereign clouds).
	Endpoint  string
	SASToken  string
	Container string
	Prefix    string
	// Transport replaces the default HTTP transport.
	Transport http.RoundTripper
}

// Store implements storage.Backend on Azure Blob Storage. Each document is
// the blob <prefix>/<collection>/<id>.json.
type Store struct {
	client    *azblob.Client
	endpoint  string
	container string
	prefix    string
	docs      *storage.BlobCollections
}

// New builds the client and creates the container when it does not exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.CreateContainer(ctx, s.container, nil); err != nil && !isContainerExists(err) {
		return nil, fmt.Errorf("azure: create container: %w", err)
	}
	return s, nil
}

func newStore(cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	clientOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: transporter(cfg.Transport)},
	}
	var (
		client *azblob.Client
		err    error
	)
	if cfg.SASToken != "" {
		endpointWithSAS, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(endpointWithSAS, clientOpts)
	} else {
		if cfg.AccountKey == "" {
			return nil, fmt.Errorf("azure: account key or SAS token required")
		}
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint+"/", cred, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	s := &Store{
		client:    client,
		endpoint:  endpoint,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}
	s.docs = storage.NewBlobCollections(s)
	return s, nil
}

type transportAdapter struct {
	rt http.RoundTripper
}

func (t transportAdapter) Do(req *http.Request) (*http.Response, error) {
	return t.rt.RoundTrip(req)
}

func transporter(rt http.RoundTripper) policy.Transporter {
	if rt != nil {
		return transportAdapter{rt: rt}
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return transportAdapter{rt: http.DefaultTransport}
	}
	clone := base.Clone()
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 32
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	return transportAdapter{rt: clone}
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// Endpoint returns the service URL without credentials.
func (s *Store) Endpoint() string {
	return s.endpoint
}

// Collection returns the named collection.
func (s *Store) Collection(name string) storage.Collection {
	return s.docs.Collection(name)
}

// Ping checks that the container is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.ServiceClient().NewContainerClient(s.container).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("azure: container %q not found", s.container)
		}
		return fmt.Errorf("azure: container properties: %w", err)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the Azure client.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) collectionPrefix(collection string) string {
	if s.prefix == "" {
		return collection + "/"
	}
	return path.Join(s.prefix, collection) + "/"
}

func (s *Store) blobName(collection, id string) (string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}
	if !storage.ValidID(id) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidID, id)
	}
	return s.collectionPrefix(collection) + id + docSuffix, nil
}

// ListIDs implements storage.BlobStore.
func (s *Store) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return nil, err
	}
	prefix := s.collectionPrefix(collection)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	var ids []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list %s: %w", collection, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, prefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, docSuffix) {
				continue
			}
			if id := strings.TrimSuffix(name, docSuffix); storage.ValidID(id) {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Get implements storage.BlobStore.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	name, err := s.blobName(collection, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("azure: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read %s: %w", name, err)
	}
	return payload, nil
}

// Put implements storage.BlobStore.
func (s *Store) Put(ctx context.Context, collection, id string, payload []byte) error {
	name, err := s.blobName(collection, id)
	if err != nil {
		return err
	}
	_, err = s.client.UploadBuffer(ctx, s.container, name, payload, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return fmt.Errorf("azure: upload %s: %w", name, err)
	}
	return nil
}

// Delete implements storage.BlobStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	name, err := s.blobName(collection, id)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		if isNotFound(err) {
			return storage.ErrBlobNotFound
		}
		return fmt.Errorf("azure: delete %s: %w", name, err)
	}
	return nil
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
