package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/booksden"
)

func newTestRoot(t *testing.T) *cobra.Command {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("BOOKSDEN_CONFIG_DIR", t.TempDir())
	for _, key := range []string{"PORT", "DB_USER", "DB_PASS", "ACCESS_TOKEN_SECRET", "NODE_ENV"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
}

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newTestRoot(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestInvocationTargetsRootCommand(t *testing.T) {
	root := newTestRoot(t)
	cases := []struct {
		name string
		args []string
		want bool
	}{
		{name: "no args", args: nil, want: true},
		{name: "root flag only", args: []string{"--store", "mem://"}, want: true},
		{name: "root shorthand with value", args: []string{"-c", "/tmp/cfg.yaml"}, want: true},
		{name: "flag with equals", args: []string{"--listen=:7000"}, want: true},
		{name: "subcommand", args: []string{"token", "issue"}, want: false},
		{name: "subcommand after root flag", args: []string{"--config", "/tmp/cfg.yaml", "version"}, want: false},
		{name: "unknown shorthand no subcommand", args: []string{"-z"}, want: true},
		{name: "unknown long before subcommand", args: []string{"--bogus", "config", "gen"}, want: false},
		{name: "positional that is not a command", args: []string{"serve"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := invocationTargetsRootCommand(root, tc.args); got != tc.want {
				t.Fatalf("invocationTargetsRootCommand(%v)=%v want %v", tc.args, got, tc.want)
			}
		})
	}
}

func TestBindConfigLegacyEnvironment(t *testing.T) {
	newTestRoot(t)
	t.Setenv("PORT", "7000")
	t.Setenv("ACCESS_TOKEN_SECRET", "legacy-secret")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASS", "hunter2")

	var cfg booksden.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("expected PORT to select listen address, got %q", cfg.Listen)
	}
	if cfg.TokenSecret != "legacy-secret" {
		t.Fatalf("unexpected token secret %q", cfg.TokenSecret)
	}
	if !cfg.Production() {
		t.Fatalf("expected production mode, got %q", cfg.Mode)
	}
	if cfg.DBUser != "app" || cfg.DBPass != "hunter2" {
		t.Fatalf("unexpected db credentials %q/%q", cfg.DBUser, cfg.DBPass)
	}
	if cfg.Store != booksden.DefaultStore || cfg.Database != booksden.DefaultDatabase {
		t.Fatalf("unexpected store defaults %q %q", cfg.Store, cfg.Database)
	}
}

func TestBindConfigNodeEnvOtherThanProduction(t *testing.T) {
	for _, value := range []string{"test", "staging", "development"} {
		newTestRoot(t)
		t.Setenv("ACCESS_TOKEN_SECRET", "legacy-secret")
		t.Setenv("NODE_ENV", value)

		var cfg booksden.Config
		if err := bindConfig(&cfg); err != nil {
			t.Fatalf("NODE_ENV=%s: bind config: %v", value, err)
		}
		if cfg.Mode != booksden.ModeDevelopment {
			t.Fatalf("NODE_ENV=%s: expected development mode, got %q", value, cfg.Mode)
		}
	}
}

func TestBindConfigRejectsUnknownPrefixedMode(t *testing.T) {
	newTestRoot(t)
	t.Setenv("ACCESS_TOKEN_SECRET", "legacy-secret")
	t.Setenv("NODE_ENV", "test")
	t.Setenv("BOOKSDEN_MODE", "test")

	var cfg booksden.Config
	if err := bindConfig(&cfg); err == nil {
		t.Fatalf("expected BOOKSDEN_MODE=test to be rejected")
	}
}

func TestBindConfigPrefixedEnvironmentWins(t *testing.T) {
	newTestRoot(t)
	t.Setenv("PORT", "7000")
	t.Setenv("BOOKSDEN_LISTEN", "127.0.0.1:7100")
	t.Setenv("ACCESS_TOKEN_SECRET", "legacy-secret")
	t.Setenv("BOOKSDEN_TOKEN_SECRET", "new-secret")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("BOOKSDEN_MODE", "development")
	t.Setenv("BOOKSDEN_JSON_MAX", "2MB")
	t.Setenv("BOOKSDEN_CORS_ORIGIN", "https://books.example.com/")

	var cfg booksden.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7100" {
		t.Fatalf("unexpected listen %q", cfg.Listen)
	}
	if cfg.TokenSecret != "new-secret" {
		t.Fatalf("unexpected token secret %q", cfg.TokenSecret)
	}
	if cfg.Production() {
		t.Fatalf("expected development mode")
	}
	if cfg.JSONMaxBytes != 2_000_000 {
		t.Fatalf("unexpected json max %d", cfg.JSONMaxBytes)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://books.example.com" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestBindConfigRejectsBadJSONMax(t *testing.T) {
	newTestRoot(t)
	t.Setenv("BOOKSDEN_TOKEN_SECRET", "s")
	t.Setenv("BOOKSDEN_JSON_MAX", "lots")
	var cfg booksden.Config
	if err := bindConfig(&cfg); err == nil || !strings.Contains(err.Error(), "json-max") {
		t.Fatalf("expected json-max error, got %v", err)
	}
}

func TestBindConfigReadsConfigFile(t *testing.T) {
	newTestRoot(t)
	path := filepath.Join(t.TempDir(), "booksden.yaml")
	data := "listen: 127.0.0.1:6000\nstore: mem://\ntoken-secret: from-file\ntoken-ttl: 2h\nmode: production\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOOKSDEN_CONFIG", path)

	loaded, err := loadConfigFile()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded != path {
		t.Fatalf("expected %s loaded, got %q", path, loaded)
	}
	var cfg booksden.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.Listen != "127.0.0.1:6000" || cfg.TokenSecret != "from-file" || cfg.TokenTTL.Hours() != 2 || !cfg.Production() {
		t.Fatalf("config file values not applied: %+v", cfg)
	}
}

func TestLoadConfigFileMissingExplicit(t *testing.T) {
	newTestRoot(t)
	t.Setenv("BOOKSDEN_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := loadConfigFile(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	_, _, err := executeRootCommand(t, "--token-secret", "s", "--mode", "staging")
	if err == nil || !strings.Contains(err.Error(), "mode must be") {
		t.Fatalf("expected mode validation error, got %v", err)
	}
	_, _, err = executeRootCommand(t, "--store", "mem://")
	if err == nil || !strings.Contains(err.Error(), "token secret required") {
		t.Fatalf("expected token secret error, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandPath("~/cfg.yaml")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "cfg.yaml") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got, _ := expandPath(""); got != "" {
		t.Fatalf("expected empty path to stay empty, got %q", got)
	}
}
