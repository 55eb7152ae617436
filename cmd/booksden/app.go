package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/booksden"
	"pkt.systems/booksden/internal/svcfields"
)

// legacyEnv maps config keys to the environment names used by earlier
// deployments. BOOKSDEN_* takes precedence.
var legacyEnv = map[string]string{
	"db-user":      "DB_USER",
	"db-pass":      "DB_PASS",
	"token-secret": "ACCESS_TOKEN_SECRET",
	"mode":         "NODE_ENV",
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("BOOKSDEN_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "booksden")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return true
	}
	lookupLong := func(name string) *pflag.Flag {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		return flag
	}
	lookupShort := func(shorthand string) *pflag.Flag {
		flag := root.Flags().ShorthandLookup(shorthand)
		if flag == nil {
			flag = root.PersistentFlags().ShorthandLookup(shorthand)
		}
		return flag
	}
	remainingHasSubcommand := func(rest []string) bool {
		for _, tok := range rest {
			if isSubcommandToken(root, tok) {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "--") {
			if strings.IndexByte(arg, '=') >= 0 {
				i++
				continue
			}
			flag := lookupLong(strings.TrimPrefix(arg, "--"))
			if flag == nil {
				return !remainingHasSubcommand(args[i+1:])
			}
			i++
			if flag.NoOptDefVal == "" && i < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			sh := strings.TrimPrefix(arg, "-")
			consumeNext := false
			for idx, ch := range sh {
				flag := lookupShort(string(ch))
				if flag == nil {
					return !remainingHasSubcommand(args[i+1:])
				}
				if flag.NoOptDefVal == "" {
					if idx == len(sh)-1 {
						consumeNext = true
					}
					break
				}
			}
			i++
			if consumeNext && i < len(args) {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := booksden.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, booksden.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg booksden.Config

	cmd := &cobra.Command{
		Use:           "booksden",
		Short:         "booksden serves the library catalogue, librarian and borrowing API",
		SilenceErrors: true,
		Example: `
  # In-memory storage (tests/dev only)
  booksden --store mem:// --token-secret dev-secret

  # MongoDB Atlas (legacy DB_USER / DB_PASS / ACCESS_TOKEN_SECRET are honoured)
  BOOKSDEN_STORE='mongodb+srv://cluster0.example.mongodb.net' DB_USER=app DB_PASS=secret ACCESS_TOKEN_SECRET=s3cr3t booksden

  # MinIO backend over plain HTTP
  booksden --store 's3://localhost:9000/booksden?insecure=1' --s3-access-key-id minioadmin --s3-secret-access-key minioadmin --token-secret-file /run/secrets/token

  # Azure Blob Storage container "library" with objects under prod/
  booksden --store azure://myaccount/library/prod --azure-key "$AZURE_STORAGE_KEY" --token-secret-file /run/secrets/token

  # Disk backend rooted at /var/lib/booksden
  booksden --store disk:///var/lib/booksden --token-secret-file /run/secrets/token
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to booksden",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			} else {
				cliLogger.Warn("unknown log level, keeping default", "log_level", logLevel)
			}

			server, err := booksden.NewServer(cfg, booksden.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.booksden/"+booksden.DefaultConfigFileName+")")
	persistentFlags.String("token-secret", "", "HS256 signing secret (or ACCESS_TOKEN_SECRET)")
	persistentFlags.String("token-secret-file", "", "file holding the signing secret; reloaded when it changes")
	persistentFlags.Duration("token-ttl", booksden.DefaultTokenTTL, "lifetime of issued credentials")

	flags := cmd.Flags()
	flags.String("listen", booksden.DefaultListen, "listen address (PORT supplies the port when unset)")
	flags.String("store", booksden.DefaultStore, "storage backend URL (mem://, disk:///path, s3://host[:port]/bucket[/prefix], azure://account/container[/prefix], mongodb://..., mongodb+srv://...)")
	flags.String("database", booksden.DefaultDatabase, "MongoDB database name")
	flags.String("db-user", "", "MongoDB user (or DB_USER)")
	flags.String("db-pass", "", "MongoDB password (or DB_PASS)")
	flags.Duration("store-connect-timeout", booksden.DefaultStoreConnectTimeout, "bound on the startup connectivity check")
	flags.String("s3-access-key-id", "", "static S3 access key (falls back to the credential chain)")
	flags.String("s3-secret-access-key", "", "static S3 secret key")
	flags.String("s3-session-token", "", "optional S3 session token")
	flags.String("s3-region", "", "S3 region used for request signing")
	flags.String("azure-account", "", "Azure storage account (overrides the azure:// host)")
	flags.String("azure-key", "", "Azure shared key (or AZURE_STORAGE_KEY)")
	flags.String("azure-endpoint", "", "Azure Blob endpoint override (e.g. Azurite)")
	flags.String("azure-sas-token", "", "Azure SAS token used instead of the shared key")
	flags.String("mode", booksden.DefaultMode, "cookie mode: development or production (or NODE_ENV)")
	flags.StringSlice("cors-origin", booksden.DefaultCORSOrigins(), "allowed front-end origins")
	flags.String("json-max", humanizeBytes(booksden.DefaultJSONMaxBytes), "maximum JSON payload size")
	flags.Int("http2-max-concurrent-streams", booksden.DefaultHTTP2MaxConcurrentStreams, "maximum concurrent HTTP/2 streams per connection")
	flags.Duration("shutdown-timeout", booksden.DefaultShutdownTimeout, "graceful shutdown bound")
	flags.String("metrics-listen", booksden.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", booksden.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime metrics on the Prometheus endpoint")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.Bool("disable-http-tracing", false, "skip per-route HTTP server spans")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("BOOKSDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config", "token-secret", "token-secret-file", "token-ttl",
		"listen", "store", "database", "db-user", "db-pass", "store-connect-timeout",
		"s3-access-key-id", "s3-secret-access-key", "s3-session-token", "s3-region",
		"azure-account", "azure-key", "azure-endpoint", "azure-sas-token",
		"mode", "cors-origin", "json-max", "http2-max-concurrent-streams", "shutdown-timeout",
		"metrics-listen", "pprof-listen", "enable-profiling-metrics", "otlp-endpoint", "disable-http-tracing",
		"log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}
	for key, legacy := range legacyEnv {
		envKey := "BOOKSDEN_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := viper.BindEnv(key, envKey, legacy); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

func bindConfig(cfg *booksden.Config) error {
	cfg.Listen = viper.GetString("listen")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && !viper.IsSet("listen") {
		cfg.Listen = net.JoinHostPort("", port)
	}
	cfg.Store = viper.GetString("store")
	cfg.Database = viper.GetString("database")
	cfg.DBUser = viper.GetString("db-user")
	cfg.DBPass = viper.GetString("db-pass")
	cfg.StoreConnectTimeout = viper.GetDuration("store-connect-timeout")
	cfg.S3AccessKeyID = viper.GetString("s3-access-key-id")
	cfg.S3SecretAccessKey = viper.GetString("s3-secret-access-key")
	cfg.S3SessionToken = viper.GetString("s3-session-token")
	cfg.S3Region = viper.GetString("s3-region")
	cfg.AzureAccount = viper.GetString("azure-account")
	cfg.AzureAccountKey = viper.GetString("azure-key")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AzureSASToken = viper.GetString("azure-sas-token")
	bindTokenConfig(cfg)
	cfg.Mode = legacyMode(viper.GetString("mode"))
	cfg.CORSOrigins = viper.GetStringSlice("cors-origin")
	if maxBytes := strings.TrimSpace(viper.GetString("json-max")); maxBytes != "" {
		size, err := humanize.ParseBytes(maxBytes)
		if err != nil {
			return fmt.Errorf("parse json-max: %w", err)
		}
		if size == 0 {
			return fmt.Errorf("parse json-max: must be greater than zero")
		}
		cfg.JSONMaxBytes = int64(size)
	}
	cfg.HTTP2MaxConcurrentStreams = viper.GetInt("http2-max-concurrent-streams")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.DisableHTTPTracing = viper.GetBool("disable-http-tracing")
	return cfg.Validate()
}

// legacyMode maps NODE_ENV values other than production (test, staging, ...)
// to development. Values from BOOKSDEN_MODE, flags or the config file are
// validated as given.
func legacyMode(mode string) string {
	legacy := strings.TrimSpace(os.Getenv(legacyEnv["mode"]))
	if legacy == "" || os.Getenv("BOOKSDEN_MODE") != "" || mode != legacy {
		return mode
	}
	if strings.EqualFold(legacy, booksden.ModeProduction) {
		return booksden.ModeProduction
	}
	return booksden.ModeDevelopment
}

func bindTokenConfig(cfg *booksden.Config) {
	cfg.TokenSecret = viper.GetString("token-secret")
	cfg.TokenSecretFile = strings.TrimSpace(viper.GetString("token-secret-file"))
	cfg.TokenTTL = viper.GetDuration("token-ttl")
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
