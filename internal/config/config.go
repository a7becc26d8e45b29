// Package config loads syncore settings from an optional YAML file, an
// optional .env file and SYNCORE_* environment variables, then validates the
// result against an embedded CUE schema.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/Rhymond/go-money"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SYNCORE_DATA_PATH.
const EnvPrefix = "SYNCORE"

//go:embed schema.cue
var schemaSource []byte

type DataConfig struct {
	Path      string `mapstructure:"path" json:"path"`
	PrefsPath string `mapstructure:"prefs_path" json:"prefs_path"`
}

type RemoteConfig struct {
	Container       string        `mapstructure:"container" json:"container"`
	SupabaseURL     string        `mapstructure:"supabase_url" json:"supabase_url"`
	SupabaseKey     string        `mapstructure:"supabase_key" json:"supabase_key"`
	Table           string        `mapstructure:"table" json:"table"`
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl" json:"availability_ttl"`
}

// Configured reports whether a Supabase project is set up as the mirror.
func (r RemoteConfig) Configured() bool {
	return r.SupabaseURL != "" && r.SupabaseKey != ""
}

type TimeoutConfig struct {
	Load   time.Duration `mapstructure:"load" json:"load"`
	Probe  time.Duration `mapstructure:"probe" json:"probe"`
	Remote time.Duration `mapstructure:"remote" json:"remote"`
}

// RetryConfig controls the background job that re-applies the mirroring
// preference while the account is unavailable.
type RetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Schedule string `mapstructure:"schedule" json:"schedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// SlogLevel maps Level to a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type DisplayConfig struct {
	Currency string `mapstructure:"currency" json:"currency"`
}

type Config struct {
	Data     DataConfig    `mapstructure:"data" json:"data"`
	Remote   RemoteConfig  `mapstructure:"remote" json:"remote"`
	Timeouts TimeoutConfig `mapstructure:"timeouts" json:"timeouts"`
	Retry    RetryConfig   `mapstructure:"retry" json:"retry"`
	Log      LogConfig     `mapstructure:"log" json:"log"`
	Display  DisplayConfig `mapstructure:"display" json:"display"`
}

// Options locate the configuration sources. Empty fields use defaults:
// syncore.yaml in the working directory and .env next to it, both optional.
type Options struct {
	File    string
	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.path", "syncore.db")
	v.SetDefault("data.prefs_path", "syncore-prefs.db")
	v.SetDefault("remote.container", "")
	v.SetDefault("remote.supabase_url", "")
	v.SetDefault("remote.supabase_key", "")
	v.SetDefault("remote.table", "planned_expenses")
	v.SetDefault("remote.availability_ttl", "5m")
	v.SetDefault("timeouts.load", "10s")
	v.SetDefault("timeouts.probe", "10s")
	v.SetDefault("timeouts.remote", "10s")
	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.schedule", "@every 300s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("display.currency", "USD")
}

// Load reads and validates the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if opts.File == "" {
		v.SetConfigName("syncore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(opts.File)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks c against the embedded schema and the currency table.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}

	if money.GetCurrency(c.Display.Currency) == nil {
		return &ValidationError{Details: fmt.Sprintf("display.currency: unknown currency %q", c.Display.Currency)}
	}
	if c.Remote.SupabaseURL != "" && c.Remote.SupabaseKey == "" {
		return &ValidationError{Details: "remote.supabase_key: required when remote.supabase_url is set"}
	}
	return nil
}

// ValidationError reports a configuration that does not match the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Details
}
