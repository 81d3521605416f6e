package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "RETROSYNC_"

// Config holds settings shared by the commands. Precedence, highest first:
// command-line flags, RETROSYNC_* environment variables (a dotenv file
// included), then the YAML config file.
type Config struct {
	URL       string        `yaml:"url"`
	Retro     string        `yaml:"retro"`
	Token     string        `yaml:"token"`
	Database  string        `yaml:"db"`
	NATSURL   string        `yaml:"nats_url"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// configKeys maps flag names to their env suffix and Config field.
var configKeys = []struct {
	flag  string
	env   string
	field func(*Config) *string
}{
	{"url", "URL", func(c *Config) *string { return &c.URL }},
	{"retro", "RETRO", func(c *Config) *string { return &c.Retro }},
	{"token", "TOKEN", func(c *Config) *string { return &c.Token }},
	{"db", "DB", func(c *Config) *string { return &c.Database }},
	{"nats-url", "NATS_URL", func(c *Config) *string { return &c.NATSURL }},
}

// LoadConfig reads the YAML file at path (if any) and overlays the
// environment. A missing dotenv file is not an error.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		// Load never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	for _, key := range configKeys {
		if v, ok := os.LookupEnv(EnvPrefix + key.env); ok && v != "" {
			*key.field(cfg) = v
		}
	}
	if v := os.Getenv(EnvPrefix + "HEARTBEAT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%sHEARTBEAT: %w", EnvPrefix, err)
		}
		cfg.Heartbeat = d
	}

	return cfg, nil
}

// resolveFlags fills every registered flag the user did not set from cfg.
func resolveFlags(cmd *cobra.Command, cfg *Config) error {
	for _, key := range configKeys {
		flag := cmd.Flags().Lookup(key.flag)
		if flag == nil || flag.Changed {
			continue
		}
		v := *key.field(cfg)
		if v == "" {
			continue
		}
		if err := cmd.Flags().Set(key.flag, v); err != nil {
			return fmt.Errorf("config %s: %w", key.flag, err)
		}
	}
	if flag := cmd.Flags().Lookup("heartbeat"); flag != nil && !flag.Changed && cfg.Heartbeat > 0 {
		if err := cmd.Flags().Set("heartbeat", cfg.Heartbeat.String()); err != nil {
			return fmt.Errorf("config heartbeat: %w", err)
		}
	}
	return nil
}

// loadAndResolve loads the config named by the root options and applies it
// to cmd's unset flags.
func loadAndResolve(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := LoadConfig(opts.Config, opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := resolveFlags(cmd, cfg); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	return nil
}
