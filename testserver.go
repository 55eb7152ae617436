package booksden

import (
	"context"
	"fmt"
	"net"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/booksden/client"
	"pkt.systems/booksden/internal/storage"
)

// TestServer wraps a running Server with handles convenient for tests.
type TestServer struct {
	Server *Server
	Config Config
	Client *client.Client

	stop func(context.Context) error
}

type testServerOptions struct {
	cfg        Config
	serverOpts []Option
	clientOpts []client.Option
	logger     pslog.Logger
}

// TestServerOption customises StartTestServer.
type TestServerOption func(*testServerOptions)

// WithTestConfigFunc mutates the server configuration before start.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			fn(&o.cfg)
		}
	}
}

// WithTestBackend injects a pre-built backend.
func WithTestBackend(backend storage.Backend) TestServerOption {
	return func(o *testServerOptions) {
		o.serverOpts = append(o.serverOpts, WithBackend(backend))
	}
}

// WithTestServerOptions appends raw server options.
func WithTestServerOptions(opts ...Option) TestServerOption {
	return func(o *testServerOptions) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// WithTestClientOptions appends options used for the helper client.
func WithTestClientOptions(opts ...client.Option) TestServerOption {
	return func(o *testServerOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithTestLogger routes server logs to logger.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = logger
	}
}

// StartTestServer starts a loopback server on an in-memory store and stops
// it when the test ends.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	o := testServerOptions{
		cfg: Config{
			Listen:             "127.0.0.1:0",
			Store:              "mem://",
			TokenSecret:        "booksden-test-secret",
			DisableHTTPTracing: true,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		o.serverOpts = append(o.serverOpts, WithLogger(o.logger))
	}
	// StartServer stops the server when its context ends, so the test server
	// is bound to cleanup instead.
	srv, stop, err := StartServer(context.Background(), o.cfg, o.serverOpts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	ts := &TestServer{Server: srv, Config: srv.cfg, stop: stop}
	t.Cleanup(func() {
		if err := ts.Stop(context.Background()); err != nil {
			t.Errorf("stop test server: %v", err)
		}
	})
	cli, err := client.New(ts.URL(), o.clientOpts...)
	if err != nil {
		t.Fatalf("test client: %v", err)
	}
	ts.Client = cli
	return ts
}

// URL returns the base URL clients should use.
func (ts *TestServer) URL() string {
	addr := ts.Addr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		return fmt.Sprintf("http://127.0.0.1:%d", tcp.Port)
	}
	return "http://" + addr.String()
}

// Addr returns the bound listener address.
func (ts *TestServer) Addr() net.Addr {
	return ts.Server.ListenerAddr()
}

// Backend exposes the storage backend used by the server.
func (ts *TestServer) Backend() storage.Backend {
	return ts.Server.Backend()
}

// Stop shuts the server down. Later calls return the first result.
func (ts *TestServer) Stop(ctx context.Context) error {
	return ts.stop(ctx)
}
