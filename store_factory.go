package booksden

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/booksden/internal/storage"
	azurestore "pkt.systems/booksden/internal/storage/azure"
	"pkt.systems/booksden/internal/storage/disk"
	"pkt.systems/booksden/internal/storage/memory"
	mongostore "pkt.systems/booksden/internal/storage/mongo"
	"pkt.systems/booksden/internal/storage/s3"
)

// CredentialSummary describes which credentials were selected for object storage.
type CredentialSummary struct {
	AccessKey string
	HasSecret bool
	Source    string
}

// parseStoreURL parses cfg.Store without echoing it back in errors, since
// database URLs routinely embed passwords.
func parseStoreURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	return u, nil
}

// StoreScheme returns the lower-cased scheme of cfg.Store.
func StoreScheme(cfg Config) (string, error) {
	u, err := parseStoreURL(cfg.Store)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme), nil
}

// openBackend connects the backend selected by cfg.Store and checks it is
// reachable. The returned label names the backend in logs and spans.
func openBackend(ctx context.Context, cfg Config) (storage.Backend, string, error) {
	scheme, err := StoreScheme(cfg)
	if err != nil {
		return nil, "", err
	}
	switch scheme {
	case "memory", "mem", "":
		return memory.New(), "storage.backend.mem", nil
	case "disk":
		diskCfg, _, err := BuildDiskConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		backend, err := disk.New(diskCfg)
		if err != nil {
			return nil, "", err
		}
		return backend, "storage.backend.disk", nil
	case "s3":
		s3cfg, _, err := BuildS3Config(cfg)
		if err != nil {
			return nil, "", err
		}
		backend, err := s3.New(s3cfg)
		if err != nil {
			return nil, "", err
		}
		if err := ensureStoreReady(ctx, cfg, backend); err != nil {
			_ = backend.Close(context.Background())
			return nil, "", err
		}
		return backend, "storage.backend.s3", nil
	case "azure":
		azcfg, err := BuildAzureConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.StoreConnectTimeout)
		defer cancel()
		backend, err := azurestore.New(connectCtx, azcfg)
		if err != nil {
			return nil, "", err
		}
		if err := ensureStoreReady(ctx, cfg, backend); err != nil {
			_ = backend.Close(context.Background())
			return nil, "", err
		}
		return backend, "storage.backend.azure", nil
	case "mongodb", "mongodb+srv":
		mcfg, err := BuildMongoConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.StoreConnectTimeout)
		defer cancel()
		backend, err := mongostore.New(connectCtx, mcfg)
		if err != nil {
			return nil, "", err
		}
		if err := ensureStoreReady(ctx, cfg, backend); err != nil {
			_ = backend.Close(context.Background())
			return nil, "", err
		}
		return backend, "storage.backend.mongo", nil
	default:
		return nil, "", fmt.Errorf("store scheme %q not supported", scheme)
	}
}

func ensureStoreReady(ctx context.Context, cfg Config, backend storage.Backend) error {
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreConnectTimeout)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		return fmt.Errorf("store connectivity check failed: %w", err)
	}
	return nil
}

// BuildMongoConfig derives the MongoDB backend configuration. DBUser and
// DBPass take precedence over credentials embedded in the URL.
func BuildMongoConfig(cfg Config) (mongostore.Config, error) {
	scheme, err := StoreScheme(cfg)
	if err != nil {
		return mongostore.Config{}, err
	}
	if scheme != "mongodb" && scheme != "mongodb+srv" {
		return mongostore.Config{}, fmt.Errorf("store scheme %q not supported", scheme)
	}
	database := strings.TrimSpace(cfg.Database)
	if database == "" {
		database = DefaultDatabase
	}
	return mongostore.Config{
		URI:            cfg.Store,
		Database:       database,
		Username:       cfg.DBUser,
		Password:       cfg.DBPass,
		AppName:        "booksden",
		ConnectTimeout: cfg.StoreConnectTimeout,
	}, nil
}

// BuildS3Config parses s3://host[:port]/bucket[/prefix] URLs that target
// S3-compatible services (MinIO, AWS, etc.).
func BuildS3Config(cfg Config) (s3.Config, CredentialSummary, error) {
	u, err := parseStoreURL(cfg.Store)
	if err != nil {
		return s3.Config{}, CredentialSummary{}, err
	}
	if u.Scheme != "s3" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	if bucket == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing bucket name")
	}
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	secure := true
	if v := query.Get("scheme"); strings.EqualFold(v, "http") {
		secure = false
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil && ok {
			secure = false
		}
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	region := strings.TrimSpace(cfg.S3Region)
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	cred, summary, err := resolveS3Credentials(cfg)
	if err != nil {
		return s3.Config{}, summary, err
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         region,
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       !secure,
		ForcePathStyle: forcePath,
		CustomCreds:    cred,
	}, summary, nil
}

// resolveS3Credentials returns static credentials from cfg or the
// BOOKSDEN_S3_* environment. A nil result selects the minio credential chain.
func resolveS3Credentials(cfg Config) (*minioCredentials.Credentials, CredentialSummary, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	source := "config"
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("BOOKSDEN_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("BOOKSDEN_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("BOOKSDEN_S3_SESSION_TOKEN")
		source = "env:BOOKSDEN_S3_ACCESS_KEY_ID"
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		return nil, CredentialSummary{Source: "chain"}, nil
	}
	summary := CredentialSummary{AccessKey: accessKey, HasSecret: secretKey != "", Source: source}
	if accessKey == "" || secretKey == "" {
		return nil, summary, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), summary, nil
}

// BuildAzureConfig parses azure://account/container[/prefix] URLs. The
// endpoint and sas query parameters override the matching config fields;
// missing credentials fall back to the usual AZURE_STORAGE_* variables.
func BuildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := parseStoreURL(cfg.Store)
	if err != nil {
		return azurestore.Config{}, err
	}
	if u.Scheme != "azure" {
		return azurestore.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	account := strings.TrimSpace(u.Host)
	if v := strings.TrimSpace(cfg.AzureAccount); v != "" {
		account = v
	}
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME", "AZURE_ACCOUNT_NAME")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing account (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing container (expected azure://account/container[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	container := strings.TrimSpace(parts[0])
	if container == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing container name")
	}
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("BOOKSDEN_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if v := strings.TrimSpace(query.Get("sas")); v != "" {
		sas = v
	}
	if sas == "" {
		sas = firstEnv("BOOKSDEN_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
		Container:  container,
		Prefix:     prefix,
	}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}

// BuildDiskConfig parses disk:// URLs into a disk.Config.
func BuildDiskConfig(cfg Config) (disk.Config, string, error) {
	u, err := parseStoreURL(cfg.Store)
	if err != nil {
		return disk.Config{}, "", err
	}
	if u.Scheme != "disk" {
		return disk.Config{}, "", fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	pathPart := strings.TrimSpace(u.Path)
	host := strings.TrimSpace(u.Host)
	if host != "" {
		if pathPart == "" || pathPart == "/" {
			pathPart = "/" + host
		} else {
			pathPart = "/" + host + "/" + strings.TrimPrefix(pathPart, "/")
		}
	}
	if pathPart == "" || pathPart == "/" {
		return disk.Config{}, "", fmt.Errorf("disk store path required (e.g. disk:///var/lib/booksden)")
	}
	root := filepath.Clean(pathPart)
	return disk.Config{Root: root}, root, nil
}
