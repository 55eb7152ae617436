package booksden

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"pkt.systems/pslog"

	"pkt.systems/booksden/internal/authtoken"
	"pkt.systems/booksden/internal/clock"
	"pkt.systems/booksden/internal/httpapi"
	"pkt.systems/booksden/internal/storage"
	loggingbackend "pkt.systems/booksden/internal/storage/logging"
	"pkt.systems/booksden/internal/svcfields"
)

// Server wraps the HTTP server, storage backend and token service.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	backend      storage.Backend
	tokens       *authtoken.Service
	secret       authtoken.SecretSource
	ownedSecret  *authtoken.FileSecret
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	telemetry    *telemetryBundle
	lastServeErr error

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Backend      storage.Backend
	Clock        clock.Clock
	Secret       authtoken.SecretSource
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithBackend injects a pre-built backend. The server closes it on Shutdown.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.Backend = b
	}
}

// WithClock injects the clock used for token issuance and verification.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithSecretSource overrides Config.TokenSecret and Config.TokenSecretFile.
func WithSecretSource(s authtoken.SecretSource) Option {
	return func(o *options) {
		o.Secret = s
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a booksden server according to cfg.
// Example:
//
//	cfg := booksden.Config{Store: "mem://", TokenSecret: "s3cret"}
//	srv, err := booksden.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Secret != nil && cfg.TokenSecret == "" && cfg.TokenSecretFile == "" {
		// An injected source stands in for the configured secret.
		cfg.TokenSecret = "injected"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if o.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = o.OTLPEndpoint
	}

	s := &Server{cfg: cfg, readyCh: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			s.release(context.Background())
		}
	}()

	var err error
	s.telemetry, err = setupTelemetry(context.Background(), telemetrySettings{
		OTLPEndpoint:           cfg.OTLPEndpoint,
		MetricsListen:          cfg.MetricsListen,
		PprofListen:            cfg.PprofListen,
		EnableProfilingMetrics: cfg.EnableProfilingMetrics,
	}, svcfields.WithSubsystem(logger, "server.telemetry"))
	if err != nil {
		return nil, err
	}

	backend := o.Backend
	backendSys := "storage.backend.injected"
	if backend == nil {
		backend, backendSys, err = openBackend(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
	}
	s.backend = loggingbackend.Wrap(backend, svcfields.WithSubsystem(logger, backendSys), backendSys)

	s.secret = o.Secret
	if s.secret == nil {
		if cfg.TokenSecretFile != "" {
			s.ownedSecret, err = authtoken.NewFileSecret(cfg.TokenSecretFile, svcfields.WithSubsystem(logger, "auth.token.secret"))
			if err != nil {
				return nil, err
			}
			s.secret = s.ownedSecret
		} else {
			s.secret = authtoken.StaticSecret(cfg.TokenSecret)
		}
	}
	s.tokens, err = authtoken.New(authtoken.Config{Secret: s.secret, TTL: cfg.TokenTTL, Clock: o.Clock})
	if err != nil {
		return nil, err
	}

	s.handler, err = httpapi.New(httpapi.Config{
		Store:              s.backend,
		Tokens:             s.tokens,
		Logger:             logger,
		JSONMaxBytes:       cfg.JSONMaxBytes,
		Production:         cfg.Production(),
		CORSOrigins:        cfg.CORSOrigins,
		DisableHTTPTracing: cfg.DisableHTTPTracing,
	})
	if err != nil {
		return nil, err
	}
	h2 := &http2.Server{MaxConcurrentStreams: uint32(cfg.HTTP2MaxConcurrentStreams)}
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           h2c.NewHandler(s.handler.Routes(), h2),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	s.logger = svcfields.WithSubsystem(logger, "server.lifecycle")
	s.logger.Info("server.configured",
		"store", backendSys,
		"mode", cfg.Mode,
		"token_ttl", cfg.TokenTTL,
		"secret_file", cfg.TokenSecretFile != "",
		"cors_origins", len(cfg.CORSOrigins),
	)
	ok = true
	return s, nil
}

// Handler returns the HTTP handler so booksden can be mounted inside an
// existing server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Backend returns the storage backend the handlers use.
func (s *Server) Backend() storage.Backend {
	return s.backend
}

// Tokens returns the token service used to sign credentials.
func (s *Server) Tokens() *authtoken.Service {
	return s.tokens
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (tcp %s): %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("server.listening", "address", ln.Addr().String(), "mode", s.cfg.Mode)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server, closes the backend and flushes
// telemetry. It returns nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("server.shutdown.begin")
	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.release(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Warn("server.shutdown.error", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

// release closes everything NewServer acquired besides the HTTP server.
func (s *Server) release(ctx context.Context) error {
	var errs []error
	if s.backend != nil {
		if err := s.backend.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		s.backend = nil
	}
	if s.ownedSecret != nil {
		if err := s.ownedSecret.Close(); err != nil {
			errs = append(errs, fmt.Errorf("secret watcher close: %w", err))
		}
		s.ownedSecret = nil
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	return errors.Join(errs...)
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// MetricsAddr returns the bound Prometheus listener address, if enabled.
func (s *Server) MetricsAddr() net.Addr {
	return s.telemetry.addr("metrics")
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying HTTP
// server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a booksden server in a background goroutine and waits
// until it accepts connections. The returned stop function shuts it down and
// is safe to call more than once.
// Example:
//
//	srv, stop, err := booksden.StartServer(ctx, booksden.Config{Store: "mem://", Listen: "127.0.0.1:0", TokenSecret: "s3cret"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	select {
	case <-srv.readyCh:
	case err := <-errCh:
		_ = srv.Shutdown(context.Background())
		if err == nil {
			err = errors.New("server stopped before becoming ready")
		}
		return nil, nil, err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, ctx.Err()
	}
	var (
		stopOnce sync.Once
		stopErr  error
		stopped  = make(chan struct{})
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			defer close(stopped)
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			shutdownCtx, cancel := context.WithTimeout(shutdownCtx, srv.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil {
				stopErr = err
			}
		})
		return stopErr
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = stop(context.Background())
		case <-stopped:
		}
	}()
	return srv, stop, nil
}
