package booksden

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/booksden/internal/authtoken"
	"pkt.systems/booksden/internal/httpapi"
)

const (
	// ModeDevelopment issues SameSite=Strict cookies without the Secure flag.
	ModeDevelopment = "development"
	// ModeProduction issues Secure, SameSite=None cookies for cross-site front ends.
	ModeProduction = "production"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":5000"
	// DefaultStore points the server at the in-memory backend.
	DefaultStore = "mem://"
	// DefaultDatabase names the MongoDB database holding the collections.
	DefaultDatabase = "booksden"
	// DefaultMode selects development cookie attributes.
	DefaultMode = ModeDevelopment
	// DefaultTokenTTL is the lifetime of issued credentials.
	DefaultTokenTTL = authtoken.DefaultTTL
	// DefaultJSONMaxBytes caps request bodies.
	DefaultJSONMaxBytes = httpapi.DefaultJSONMaxBytes
	// DefaultHTTP2MaxConcurrentStreams bounds per-connection h2c streams.
	DefaultHTTP2MaxConcurrentStreams = 250
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultStoreConnectTimeout bounds the initial backend connectivity check.
	DefaultStoreConnectTimeout = 10 * time.Second
	// DefaultMetricsListen is empty; metrics are off unless configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is empty; pprof is off unless configured.
	DefaultPprofListen = ""
	// DefaultConfigFileName is the config file looked up in DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// DefaultCORSOrigins returns the front-end origins allowed when none are configured.
func DefaultCORSOrigins() []string {
	return append([]string(nil), httpapi.DefaultCORSOrigins...)
}

// Config captures the tunables for a booksden.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":5000").
	Listen string
	// Store is the backend URL (mem://, disk:///path, s3://host/bucket, azure://account/container, mongodb://..., mongodb+srv://...).
	Store string
	// Database names the MongoDB database.
	Database string
	// DBUser and DBPass override credentials embedded in a MongoDB URL.
	DBUser string
	DBPass string
	// StoreConnectTimeout bounds the connectivity check performed at startup.
	StoreConnectTimeout time.Duration
	// S3AccessKeyID, S3SecretAccessKey and S3SessionToken select static S3
	// credentials. When empty the minio credential chain is used.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string
	// S3Region is passed to the S3 client for request signing.
	S3Region string
	// AzureAccount overrides the account named in an azure:// URL.
	AzureAccount string
	// AzureAccountKey authenticates with a shared key; AzureSASToken is used instead when set.
	AzureAccountKey string
	AzureSASToken   string
	// AzureEndpoint overrides https://<account>.blob.core.windows.net.
	AzureEndpoint string

	// TokenSecret is the HS256 signing secret.
	TokenSecret string
	// TokenSecretFile points at a file holding the secret; it is reloaded on change.
	TokenSecretFile string
	// TokenTTL is the lifetime of issued credentials.
	TokenTTL time.Duration

	// Mode is ModeDevelopment or ModeProduction.
	Mode string
	// CORSOrigins lists allowed front-end origins.
	CORSOrigins []string
	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// HTTP2MaxConcurrentStreams bounds streams per h2c connection.
	HTTP2MaxConcurrentStreams int
	// ShutdownTimeout bounds graceful shutdown in StartServer's stop function.
	ShutdownTimeout time.Duration

	// MetricsListen is the Prometheus endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics adds Go runtime metrics to the metrics endpoint.
	EnableProfilingMetrics bool
	// OTLPEndpoint enables trace export (grpc://, grpcs://, http://, https:// or host:port).
	OTLPEndpoint string
	// DisableHTTPTracing skips otelhttp spans per route.
	DisableHTTPTracing bool
}

// Production reports whether production cookie attributes are selected.
func (c Config) Production() bool {
	return c.Mode == ModeProduction
}

// Validate applies defaults and verifies the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	c.Store = strings.TrimSpace(c.Store)
	if c.Store == "" {
		return fmt.Errorf("config: store is required")
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.StoreConnectTimeout == 0 {
		c.StoreConnectTimeout = DefaultStoreConnectTimeout
	} else if c.StoreConnectTimeout < 0 {
		return fmt.Errorf("config: store connect timeout must be >= 0")
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("config: mode must be %q or %q", ModeDevelopment, ModeProduction)
	}
	if c.TokenSecret == "" && strings.TrimSpace(c.TokenSecretFile) == "" {
		return fmt.Errorf("config: token secret required (set --token-secret or --token-secret-file)")
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	} else if c.TokenTTL < 0 {
		return fmt.Errorf("config: token ttl must be >= 0")
	}
	if c.JSONMaxBytes == 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	} else if c.JSONMaxBytes < 0 {
		return fmt.Errorf("config: json max bytes must be > 0")
	}
	if c.HTTP2MaxConcurrentStreams == 0 {
		c.HTTP2MaxConcurrentStreams = DefaultHTTP2MaxConcurrentStreams
	} else if c.HTTP2MaxConcurrentStreams < 0 {
		return fmt.Errorf("config: http2 max concurrent streams must be > 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	} else if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = DefaultCORSOrigins()
	}
	origins := make([]string, 0, len(c.CORSOrigins))
	for _, origin := range c.CORSOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return fmt.Errorf("config: at least one cors origin required")
	}
	c.CORSOrigins = origins
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	return nil
}

// DefaultConfigDir returns the default configuration directory ($HOME/.booksden).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("BOOKSDEN_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".booksden"), nil
}
