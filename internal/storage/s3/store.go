package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/booksden/internal/storage"
)

const (
	docSuffix   = ".json"
	contentType = "application/json"
)

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
}

// Store implements storage.Backend on S3-compatible object storage. Each
// document is the object <prefix>/<collection>/<id>.json.
type Store struct {
	client *minio.Client
	cfg    Config
	docs   *storage.BlobCollections
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	s := &Store{client: client, cfg: cfg}
	s.docs = storage.NewBlobCollections(s)
	return s, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 32
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	return clone
}

// Client exposes the underlying MinIO client for diagnostics.
func (s *Store) Client() *minio.Client {
	return s.client
}

// Collection returns the named collection.
func (s *Store) Collection(name string) storage.Collection {
	return s.docs.Collection(name)
}

// Ping checks that the configured bucket exists.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3: bucket exists: %w", err)
	}
	if !ok {
		return fmt.Errorf("s3: bucket %q not found", s.cfg.Bucket)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the S3 client.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) collectionPrefix(collection string) string {
	if s.cfg.Prefix == "" {
		return collection + "/"
	}
	return path.Join(s.cfg.Prefix, collection) + "/"
}

func (s *Store) objectName(collection, id string) (string, error) {
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
	var ids []string
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", collection, object.Err)
		}
		name := strings.TrimPrefix(object.Key, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, docSuffix)
		if storage.ValidID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Get implements storage.BlobStore.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	object, err := s.objectName(collection, id)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", object, err)
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3: read %s: %w", object, err)
	}
	return payload, nil
}

// Put implements storage.BlobStore.
func (s *Store) Put(ctx context.Context, collection, id string, payload []byte) error {
	object, err := s.objectName(collection, id)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, object, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", object, err)
	}
	return nil
}

// Delete implements storage.BlobStore. Object stores do not report missing
// keys on delete, so existence is checked first.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	object, err := s.objectName(collection, id)
	if err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, object, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.ErrBlobNotFound
		}
		return fmt.Errorf("s3: stat %s: %w", object, err)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", object, err)
	}
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound || errResp.Code == "NoSuchKey"
	}
	return false
}
