package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

type (
	loggerKey struct{}
	configKey struct{}
)

// Config file location, relative to a directory being searched.
const (
	DirName  = ".leapbuild"
	FileName = "config.yaml"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "LEAPBUILD_"

const maxSearchDepth = 32

var k = koanf.New(".")

// nestedEnvSections maps flattened env names onto nested keys:
// LEAPBUILD_STATE_BACKEND -> state.backend.
var nestedEnvSections = []string{"state", "compiler", "script"}

// ResetConfig drops all loaded values.
func ResetConfig() {
	k = koanf.New(".")
}

// FindConfigFiles returns the config files in startDir and its ancestors,
// nearest first.
func FindConfigFiles(startDir string) []string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil
	}
	var files []string
	for range maxSearchDepth {
		candidate := filepath.Join(dir, DirName, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			files = append(files, candidate)
		}
		if up := filepath.Dir(dir); up != dir {
			dir = up
		} else {
			break
		}
	}
	return files
}

// under joins a relative p onto base.
func under(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// envKey transforms LEAPBUILD_LOG_LEVEL -> log_level. PATHS is handled
// separately since it is a path list.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "paths" {
		return ""
	}
	for _, section := range nestedEnvSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// LoadConfig loads configuration for a command run from startDir.
// Precedence (highest to lowest): flags > env vars > config files > defaults.
//
// Scalar keys from nearer config files win over farther ones. `paths` lists
// are concatenated nearest first, and relative `paths` and `target_dir`
// entries are resolved against the directory containing `.leapbuild`.
func LoadConfig(startDir string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"manifest_path":    "",
		"target_dir":       "",
		"jobs":             DefaultJobs,
		"verbose":          false,
		"log_level":        DefaultLogLevel,
		"log_format":       DefaultLogFormat,
		"message_format":   DefaultMessageFormat,
		"color":            DefaultColor,
		"state.backend":    DefaultBackend,
		"compiler.command": []string{},
		"script.shell":     DefaultShell,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// farthest first, so nearer files win
	files := FindConfigFiles(startDir)
	var paths []string
	for i := len(files) - 1; i >= 0; i-- {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(files[i]), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", files[i], err)
		}
		base := filepath.Dir(filepath.Dir(files[i]))

		var own []string
		for _, p := range fk.Strings("paths") {
			own = append(own, under(base, p))
		}
		paths = append(own, paths...)
		fk.Delete("paths")

		if err := k.Merge(fk); err != nil {
			return nil, fmt.Errorf("error merging config file %s: %w", files[i], err)
		}
		if fk.Exists("target_dir") {
			if err := k.Set("target_dir", under(base, fk.String("target_dir"))); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", files[i], err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PATHS"); ok && v != "" {
		paths = append(filepath.SplitList(v), paths...)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, changedFlag(flags)), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.ComposeDecodeHookFunc(fieldsHook, mapstructure.StringToTimeDurationHookFunc()),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Paths = paths
	cfg.Files = files

	// Flag and env values are relative to the working directory
	for _, p := range []*string{&cfg.TargetDir, &cfg.ManifestPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			if abs, err := filepath.Abs(*p); err == nil {
				*p = abs
			}
		}
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// changedFlag maps explicitly set flags onto snake_case keys. Unset flags
// are skipped so they never shadow env or file values with their defaults.
func changedFlag(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if !f.Changed {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	}
}

// fieldsHook splits a string decoded into a []string field on whitespace,
// so LEAPBUILD_COMPILER_COMMAND="cc -o {out}" yields an argv.
func fieldsHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
		return data, nil
	}
	return strings.Fields(data.(string)), nil
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger returns the logger stored by WithLogger, or a discarding one.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or the defaults.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return &Config{
		Jobs:          DefaultJobs,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		MessageFormat: DefaultMessageFormat,
		Color:         DefaultColor,
		State:         StateConfig{Backend: DefaultBackend},
		Script:        ScriptConfig{Shell: DefaultShell},
	}
}
