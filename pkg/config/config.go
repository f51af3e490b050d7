package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/typewatch/typewatch/pkg/telemetry"
)

// FileName is the configuration file looked up in the project root.
const FileName = ".typewatch.yaml"

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: TYPEWATCH_LOG__LEVEL sets log.level.
const EnvPrefix = "TYPEWATCH_"

// Config is the typewatch configuration.
type Config struct {
	// Root is the project directory holding the manifests.
	Root string `koanf:"root" validate:"required"`

	// Manifests are the watched manifest files, relative to Root.
	Manifests []string `koanf:"manifests" validate:"required,min=1,dive,required"`

	// UseYarn runs yarn instead of npm.
	UseYarn bool `koanf:"use_yarn"`

	// SaveAsDevDependency records every types package as a development dependency.
	SaveAsDevDependency bool `koanf:"save_as_dev_dependency"`

	// SettleDelay is how long a manifest must stay quiet before it is re-read.
	SettleDelay time.Duration `koanf:"settle_delay" validate:"gte=0s"`

	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Tracing TracingConfig `koanf:"tracing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path the log is appended to.
	Output string `koanf:"output" validate:"required"`

	// Caller adds file:line to every entry.
	Caller bool `koanf:"caller"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	ListenAddress string `koanf:"listen_address" validate:"required_if=Enabled true"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint string `koanf:"endpoint" validate:"required_if=Exporter otlp"`
}

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	// Path is the configuration key, e.g. "log.level".
	Path string `json:"path"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors lists every invalid value found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

func defaults(root string) map[string]interface{} {
	return map[string]interface{}{
		"root":                   root,
		"manifests":              []string{"package.json", "bower.json"},
		"use_yarn":               false,
		"save_as_dev_dependency": false,
		"settle_delay":           "800ms",
		"log.level":              "info",
		"log.format":             "console",
		"log.output":             "stderr",
		"log.caller":             false,
		"metrics.enabled":        false,
		"metrics.listen_address": ":9464",
		"tracing.enabled":        false,
		"tracing.exporter":       "none",
		"tracing.endpoint":       "",
	}
}

// Load builds the configuration from defaults, the YAML file and the
// environment, in that order. An empty path looks for FileName in root and
// ignores it when absent; an explicit path must exist.
func Load(path, root string) (*Config, error) {
	if root == "" {
		root = "."
	}

	k := koanf.New(".")
	for key, value := range defaults(root) {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	// 1. Load from file
	if path == "" {
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 2. Load from ENV (TYPEWATCH_USE_YARN -> use_yarn, TYPEWATCH_LOG__LEVEL -> log.level)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default(root string) *Config {
	if root == "" {
		root = "."
	}
	return &Config{
		Root:        root,
		Manifests:   []string{"package.json", "bower.json"},
		SettleDelay: 800 * time.Millisecond,
		Log:         LogConfig{Level: "info", Format: "console", Output: "stderr"},
		Metrics:     MetricsConfig{ListenAddress: ":9464"},
		Tracing:     TracingConfig{Exporter: "none"},
	}
}

// Validate checks the configuration with its struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    keyPath(fe.Namespace()),
			Message: message(fe),
		})
	}
	return out
}

// Telemetry maps the configuration onto a telemetry.Config.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Logging.Output = c.Log.Output
	tc.Logging.EnableCaller = c.Log.Caller
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	return tc
}

// keyPath turns "Config.log.level" into "log.level".
func keyPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gte":
		return "must not be negative"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
