package booksden

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Store: "mem://", TokenSecret: "s"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected listen %q, got %q", DefaultListen, cfg.Listen)
	}
	if cfg.Database != DefaultDatabase || cfg.Mode != ModeDevelopment {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.JSONMaxBytes != DefaultJSONMaxBytes || cfg.HTTP2MaxConcurrentStreams != DefaultHTTP2MaxConcurrentStreams {
		t.Fatalf("unexpected limits %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.Production() {
		t.Fatalf("expected development mode")
	}
}

func TestConfigValidateNormalises(t *testing.T) {
	origins := []string{" https://books.example/ ", "", "https://admin.example"}
	cfg := Config{Store: " mem:// ", TokenSecretFile: "/run/secret", Mode: " Production ", CORSOrigins: origins}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !cfg.Production() || cfg.Store != "mem://" {
		t.Fatalf("unexpected normalised config %+v", cfg)
	}
	if strings.Join(cfg.CORSOrigins, ",") != "https://books.example,https://admin.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if origins[0] != " https://books.example/ " {
		t.Fatalf("caller slice mutated: %v", origins)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing store", Config{TokenSecret: "s"}, "store is required"},
		{"missing secret", Config{Store: "mem://"}, "token secret required"},
		{"bad mode", Config{Store: "mem://", TokenSecret: "s", Mode: "staging"}, "mode must be"},
		{"negative ttl", Config{Store: "mem://", TokenSecret: "s", TokenTTL: -time.Second}, "token ttl"},
		{"negative json max", Config{Store: "mem://", TokenSecret: "s", JSONMaxBytes: -1}, "json max bytes"},
		{"negative streams", Config{Store: "mem://", TokenSecret: "s", HTTP2MaxConcurrentStreams: -1}, "http2"},
		{"negative shutdown", Config{Store: "mem://", TokenSecret: "s", ShutdownTimeout: -time.Second}, "shutdown timeout"},
		{"blank origins", Config{Store: "mem://", TokenSecret: "s", CORSOrigins: []string{" "}}, "cors origin"},
		{"profiling without metrics", Config{Store: "mem://", TokenSecret: "s", EnableProfilingMetrics: true}, "metrics-listen"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOOKSDEN_CONFIG_DIR", dir)
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("config dir: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}
}
