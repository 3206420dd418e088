// Package config loads runtime configuration from built-in defaults overlaid
// with FOLIO_* environment variables, then validates the result.
package config

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names before lookup.
const EnvPrefix = "FOLIO_"

// Config is the application configuration.
type Config struct {
	Addr    string `koanf:"addr" validate:"required,ip_port"`
	DataDir string `koanf:"data_dir" validate:"data_dir"`
	// Backend selects the storage engine for both stores.
	Backend       string `koanf:"backend" validate:"oneof=sqlite badger"`
	SchemaVersion int    `koanf:"schema_version" validate:"min=3,max=3"`

	MaxUploadBytes       ByteSize      `koanf:"max_upload_bytes" validate:"min=1"`
	SweepInterval        time.Duration `koanf:"sweep_interval" validate:"min=1s"`
	OrphanGrace          time.Duration `koanf:"orphan_grace" validate:"min=0"`
	MetricsFlushInterval time.Duration `koanf:"metrics_flush_interval" validate:"min=1s"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`

	DictionaryURL   string  `koanf:"dictionary_url" validate:"omitempty,url"`
	DictionaryKey   string  `koanf:"dictionary_key"`
	ContextualURL   string  `koanf:"contextual_url" validate:"omitempty,url"`
	ContextualKey   string  `koanf:"contextual_key"`
	ContextualModel string  `koanf:"contextual_model" validate:"required"`
	LookupRPS       float64 `koanf:"lookup_rps" validate:"gt=0"`
}

// DefaultAppConfig holds the values used when no environment override is set.
var DefaultAppConfig = Config{
	Addr:                 ":8080",
	DataDir:              "/data",
	Backend:              "sqlite",
	SchemaVersion:        3,
	MaxUploadBytes:       50 * MiB,
	SweepInterval:        10 * time.Minute,
	OrphanGrace:          time.Minute,
	MetricsFlushInterval: 30 * time.Second,
	LogLevel:             "info",
	LogFormat:            "json",
	DictionaryURL:        "https://www.dictionaryapi.com/api/v3/references/collegiate/json/",
	ContextualURL:        "https://api.openai.com/v1/chat/completions",
	ContextualModel:      "gpt-4o-mini",
	LookupRPS:            2,
}

var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("data_dir", validDataDir)
	}
)

// Load builds the configuration from defaults and environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.OrphanGrace >= cfg.SweepInterval {
		return nil, fmt.Errorf("orphan_grace must be less than sweep_interval")
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN for the library database under DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, "folio.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"
}

// MetricsDSN returns the DSN of the metrics database used with the badger
// backend. The sqlite backend keeps metrics in the library database.
func (c *Config) MetricsDSN() string {
	return "file:" + filepath.Join(c.DataDir, "metrics.db") + "?_journal_mode=WAL&_busy_timeout=5000"
}

// ContentDir is where the filesystem content store keeps EPUB blobs.
func (c *Config) ContentDir() string { return filepath.Join(c.DataDir, "books") }

// BadgerDir is where the badger backend keeps its files.
func (c *Config) BadgerDir() string { return filepath.Join(c.DataDir, "badger") }

// validIPPort accepts "ip:port" or ":port" with a numeric port in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	if strings.HasPrefix(s, ":") {
		s = "0.0.0.0" + s
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return false
	}
	return ap.Port() != 0
}

// validDataDir rejects empty, root and current-directory paths and any path
// containing a parent reference.
func validDataDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	switch filepath.Clean(p) {
	case ".", "/":
		return false
	}
	return true
}
