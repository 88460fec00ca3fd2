// Package config loads devserve settings.
//
// Values are resolved with the following precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (DEVSERVE_ prefix)
//  3. Config file (.devserve.yaml)
//  4. Defaults
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"devserve/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "DEVSERVE"
	configFileName = ".devserve"

	DefaultPort     = 3000
	DefaultHost     = "localhost"
	DefaultRoot     = "."
	DefaultDebounce = 100 * time.Millisecond
	DefaultMaxWait  = time.Second
)

const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

var (
	DefaultWatch  = []string{"**/*.html", "**/*.js"}
	DefaultIgnore = []string{"**/.git/**", "**/node_modules/**"}
)

// Config is the effective configuration handed to the serve command. It is
// built once at startup and passed explicitly.
type Config struct {
	Port       int           `mapstructure:"port"`
	Host       string        `mapstructure:"host"`
	Root       string        `mapstructure:"root"`
	Watch      []string      `mapstructure:"watch"`
	Ignore     []string      `mapstructure:"ignore"`
	Debounce   time.Duration `mapstructure:"debounce"`
	MaxWait    time.Duration `mapstructure:"max-wait"`
	LogLevel   string        `mapstructure:"log-level"`
	NoColor    bool          `mapstructure:"no-color"`
	Metrics    bool          `mapstructure:"metrics"`
	Inject     bool          `mapstructure:"inject"`
	CSSInject  bool          `mapstructure:"css-inject"`
	MaxClients int           `mapstructure:"max-clients"`

	// AllowOrigins are extra websocket origins accepted besides the
	// server's own host.
	AllowOrigins []string `mapstructure:"allow-origin"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `mapstructure:"-"`
	// Sources records where each key's value came from.
	Sources map[string]string `mapstructure:"-"`
}

var keys = []string{
	"port", "host", "root", "watch", "ignore", "debounce", "max-wait",
	"log-level", "no-color", "metrics", "inject", "css-inject", "max-clients",
	"allow-origin",
}

func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		Host:     DefaultHost,
		Root:     DefaultRoot,
		Watch:    append([]string(nil), DefaultWatch...),
		Ignore:   append([]string(nil), DefaultIgnore...),
		Debounce: DefaultDebounce,
		MaxWait:  DefaultMaxWait,
		LogLevel: string(logging.LevelInfo),
		Inject:   true,
	}
}

// Validate checks flag-level values. Watch patterns and the root directory
// are checked by the watcher so they surface as watch configuration errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", c.Port)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("invalid debounce %s: must be positive", c.Debounce)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("invalid max-wait %s: must not be negative", c.MaxWait)
	}
	if c.MaxWait > 0 && c.MaxWait < c.Debounce {
		return fmt.Errorf("invalid max-wait %s: must not be shorter than debounce %s", c.MaxWait, c.Debounce)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid max-clients %d: must not be negative", c.MaxClients)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logging.Level {
	level, ok := logging.ParseLevel(c.LogLevel)
	if !ok {
		return logging.LevelInfo
	}
	return level
}

// Load resolves configuration from flags, environment and an optional config
// file. A fresh viper instance is used on every call.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Sources = resolveSources(v, cmd)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("port", defaults.Port)
	v.SetDefault("host", defaults.Host)
	v.SetDefault("root", defaults.Root)
	v.SetDefault("watch", defaults.Watch)
	v.SetDefault("ignore", defaults.Ignore)
	v.SetDefault("debounce", defaults.Debounce)
	v.SetDefault("max-wait", defaults.MaxWait)
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("no-color", defaults.NoColor)
	v.SetDefault("metrics", defaults.Metrics)
	v.SetDefault("inject", defaults.Inject)
	v.SetDefault("css-inject", defaults.CSSInject)
	v.SetDefault("max-clients", defaults.MaxClients)
	v.SetDefault("allow-origin", []string{})
}

func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "devserve"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// bindFlags binds cmd's flags and the persistent flags of every ancestor.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}
	return nil
}

func resolveSources(v *viper.Viper, cmd *cobra.Command) map[string]string {
	sources := make(map[string]string, len(keys))
	for _, key := range keys {
		switch {
		case flagChanged(cmd, key):
			sources[key] = SourceFlag
		case envSet(key):
			sources[key] = SourceEnv
		case v.InConfig(key):
			sources[key] = SourceFile
		default:
			sources[key] = SourceDefault
		}
	}
	return sources
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}
	var flag *pflag.Flag
	for c := cmd; c != nil && flag == nil; c = c.Parent() {
		flag = c.Flags().Lookup(name)
		if flag == nil {
			flag = c.PersistentFlags().Lookup(name)
		}
	}
	return flag != nil && flag.Changed
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
	return ok
}

type ctxKey struct{}

func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
			return cfg
		}
	}
	return Default()
}
