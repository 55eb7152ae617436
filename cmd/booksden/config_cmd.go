package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/booksden"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage booksden configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.booksden/" + booksden.DefaultConfigFileName
	if dir, err := booksden.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, booksden.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default booksden configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				dir, err := booksden.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, booksden.DefaultConfigFileName)
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen                    string   `yaml:"listen"`
	Store                     string   `yaml:"store"`
	Database                  string   `yaml:"database"`
	DBUser                    string   `yaml:"db-user"`
	DBPass                    string   `yaml:"db-pass"`
	StoreConnectTimeout       string   `yaml:"store-connect-timeout"`
	S3AccessKeyID             string   `yaml:"s3-access-key-id"`
	S3SecretAccessKey         string   `yaml:"s3-secret-access-key"`
	S3Region                  string   `yaml:"s3-region"`
	AzureAccount              string   `yaml:"azure-account"`
	AzureKey                  string   `yaml:"azure-key"`
	AzureEndpoint             string   `yaml:"azure-endpoint"`
	TokenSecret               string   `yaml:"token-secret"`
	TokenSecretFile           string   `yaml:"token-secret-file"`
	TokenTTL                  string   `yaml:"token-ttl"`
	Mode                      string   `yaml:"mode"`
	CORSOrigins               []string `yaml:"cors-origin"`
	JSONMax                   string   `yaml:"json-max"`
	HTTP2MaxConcurrentStreams int      `yaml:"http2-max-concurrent-streams"`
	ShutdownTimeout           string   `yaml:"shutdown-timeout"`
	MetricsListen             string   `yaml:"metrics-listen"`
	PprofListen               string   `yaml:"pprof-listen"`
	EnableProfilingMetrics    bool     `yaml:"enable-profiling-metrics"`
	OTLPEndpoint              string   `yaml:"otlp-endpoint"`
	LogLevel                  string   `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Listen:                    booksden.DefaultListen,
		Store:                     booksden.DefaultStore,
		Database:                  booksden.DefaultDatabase,
		StoreConnectTimeout:       booksden.DefaultStoreConnectTimeout.String(),
		TokenTTL:                  booksden.DefaultTokenTTL.String(),
		Mode:                      booksden.DefaultMode,
		CORSOrigins:               booksden.DefaultCORSOrigins(),
		JSONMax:                   humanizeBytes(booksden.DefaultJSONMaxBytes),
		HTTP2MaxConcurrentStreams: booksden.DefaultHTTP2MaxConcurrentStreams,
		ShutdownTimeout:           booksden.DefaultShutdownTimeout.String(),
		MetricsListen:             booksden.DefaultMetricsListen,
		PprofListen:               booksden.DefaultPprofListen,
		LogLevel:                  "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}
	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
