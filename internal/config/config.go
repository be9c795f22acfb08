// Package config loads chatsync configuration from YAML, .env files and the
// environment, and validates it against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

// Config is the full configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Log           LogConfig           `yaml:"log"`
	HistoryLimit  int                 `yaml:"history_limit"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Assistant     AssistantConfig     `yaml:"assistant"`
	Media         MediaConfig         `yaml:"media"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NotificationsConfig tunes alert fan-out.
type NotificationsConfig struct {
	RecencyWindow Duration `yaml:"recency_window"`
}

// AssistantConfig configures the assistant drafter and reply pacing.
type AssistantConfig struct {
	Enabled       bool     `yaml:"enabled"`
	APIKey        string   `yaml:"api_key"`
	Model         string   `yaml:"model"`
	BaseURL       string   `yaml:"base_url"`
	Timeout       Duration `yaml:"timeout"`
	InitialDelay  Duration `yaml:"initial_delay"`
	PerChar       Duration `yaml:"per_char"`
	MinTyping     Duration `yaml:"min_typing"`
	MaxTyping     Duration `yaml:"max_typing"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Burst         int      `yaml:"burst"`
}

// MediaConfig selects the upload backend.
type MediaConfig struct {
	// Backend is none, cloudinary or blob.
	Backend    string           `yaml:"backend"`
	MaxSize    SizeBytes        `yaml:"max_size"`
	BlobDir    string           `yaml:"blob_dir"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
}

// CloudinaryConfig holds unsigned upload settings.
type CloudinaryConfig struct {
	CloudName    string `yaml:"cloud_name"`
	UploadPreset string `yaml:"upload_preset"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store:        StoreConfig{Path: "chatsync.db"},
		Log:          LogConfig{Level: "info", Format: "text"},
		HistoryLimit: 100,
		Notifications: NotificationsConfig{
			RecencyWindow: Duration(5 * time.Second),
		},
		Assistant: AssistantConfig{
			Enabled:       true,
			Model:         "gemini-2.5-flash",
			BaseURL:       "https://generativelanguage.googleapis.com",
			Timeout:       Duration(20 * time.Second),
			InitialDelay:  Duration(600 * time.Millisecond),
			PerChar:       Duration(30 * time.Millisecond),
			MinTyping:     Duration(1500 * time.Millisecond),
			MaxTyping:     Duration(4 * time.Second),
			RatePerSecond: 1,
			Burst:         3,
		},
		Media: MediaConfig{
			Backend: "none",
			MaxSize: SizeBytes(10 * humanize.MByte),
			Cloudinary: CloudinaryConfig{
				BaseURL: "https://api.cloudinary.com",
			},
		},
	}
}

// Environment variables applied over the file.
const (
	EnvStorePath       = "CHATSYNC_STORE_PATH"
	EnvLogLevel        = "CHATSYNC_LOG_LEVEL"
	EnvMetricsAddr     = "CHATSYNC_METRICS_ADDR"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvAPIKey          = "API_KEY"
	EnvCloudinaryKey   = "CLOUDINARY_API_KEY"
	EnvCloudinaryCloud = "CLOUDINARY_CLOUD_NAME"
)

type loadOptions struct {
	envFiles []string
	lookup   func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile reads variables from a .env file. Missing files are ignored.
// Variables already set in the environment take precedence.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFiles = append(o.envFiles, path) }
}

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load reads the YAML file at path over the defaults, applies .env and
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	lookup, err := envLookup(o)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func envLookup(o loadOptions) (func(string) (string, bool), error) {
	fileVars := map[string]string{}
	for _, f := range o.envFiles {
		vars, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
		for k, v := range vars {
			if _, ok := fileVars[k]; !ok {
				fileVars[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := o.lookup(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	if v, ok := lookup(EnvGeminiAPIKey); ok && v != "" {
		c.Assistant.APIKey = v
	} else if v, ok := lookup(EnvAPIKey); ok && v != "" && c.Assistant.APIKey == "" {
		c.Assistant.APIKey = v
	}
	if v, ok := lookup(EnvCloudinaryKey); ok && v != "" {
		c.Media.Cloudinary.APIKey = v
	}
	if v, ok := lookup(EnvCloudinaryCloud); ok && v != "" {
		c.Media.Cloudinary.CloudName = v
	}
}

// Validate checks the configuration against the embedded schema.
func (c *Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(cctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError reports a configuration that violates the schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// view is the schema-shaped form of c: durations in milliseconds.
func (c *Config) view() map[string]any {
	ms := func(d Duration) int64 { return time.Duration(d).Milliseconds() }
	a := c.Assistant
	return map[string]any{
		"store": map[string]any{"path": c.Store.Path},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"history_limit": c.HistoryLimit,
		"notifications": map[string]any{
			"recency_window_ms": ms(c.Notifications.RecencyWindow),
		},
		"assistant": map[string]any{
			"enabled":          a.Enabled,
			"model":            a.Model,
			"base_url":         a.BaseURL,
			"timeout_ms":       ms(a.Timeout),
			"initial_delay_ms": ms(a.InitialDelay),
			"per_char_ms":      ms(a.PerChar),
			"min_typing_ms":    ms(a.MinTyping),
			"max_typing_ms":    ms(a.MaxTyping),
			"rate_per_second":  a.RatePerSecond,
			"burst":            a.Burst,
		},
		"media": map[string]any{
			"backend":   c.Media.Backend,
			"max_bytes": c.Media.MaxSize.Int64(),
			"blob_dir":  c.Media.BlobDir,
			"cloudinary": map[string]any{
				"cloud_name":    c.Media.Cloudinary.CloudName,
				"upload_preset": c.Media.Cloudinary.UploadPreset,
				"base_url":      c.Media.Cloudinary.BaseURL,
			},
		},
		"metrics": map[string]any{"addr": c.Metrics.Addr},
	}
}

// SizeBytes is a byte count written as "10MB" or a plain integer.
type SizeBytes int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

// Int64 returns the byte count.
func (s SizeBytes) Int64() int64 { return int64(s) }

// String formats the size for humans.
func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

// Duration is a time.Duration written as "5s" or as numeric seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration.
func (d Duration) String() string { return time.Duration(d).String() }
