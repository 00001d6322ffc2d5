package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Load reads configuration from a TOML file, environment variables, and
// defaults (spec.md §6 EXTERNAL INTERFACES: "TOML settings with QCRAWL_ env
// prefix"). Priority (highest to lowest among what this function populates):
// env vars > config file > defaults — the Spider/CLI/Explicit tiers above
// ConfigFile/Env are applied later, by Merge and by a collaborator's own
// flag-parsing.
func Load(configPath string) (*Settings, error) {
	cfg := DefaultSettings()

	v := viper.New()
	v.SetConfigType("toml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("QCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("qcrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".qcrawl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := decodeMiddlewareOptionsTOML(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decodeMiddlewareOptionsTOML decodes each middleware's OptionsTOML (if set)
// directly with go-toml, rather than through viper, and merges the result
// into Options, letting a key present in both win from the raw document.
func decodeMiddlewareOptionsTOML(cfg *Settings) error {
	for i := range cfg.Middlewares {
		mw := &cfg.Middlewares[i]
		if mw.OptionsTOML == "" {
			continue
		}
		var extra map[string]any
		if err := toml.Unmarshal([]byte(mw.OptionsTOML), &extra); err != nil {
			return fmt.Errorf("middleware %q: decode options_toml: %w", mw.Name, err)
		}
		if mw.Options == nil {
			mw.Options = extra
			continue
		}
		for k, v := range extra {
			mw.Options[k] = v
		}
	}
	return nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Settings, error) {
	return Load(path)
}

// setDefaults registers default values in viper so env vars and the config
// file layer on top of them rather than replacing an empty struct.
func setDefaults(v *viper.Viper, cfg *Settings) {
	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)

	v.SetDefault("queue.max_size", cfg.Queue.MaxSize)

	v.SetDefault("fingerprinter.ignore_query_params", cfg.Fingerprinter.IgnoreQueryParams)
	v.SetDefault("fingerprinter.keep_query_params", cfg.Fingerprinter.KeepQueryParams)
	v.SetDefault("fingerprinter.digest_size", cfg.Fingerprinter.DigestSize)

	v.SetDefault("handlers.configured", cfg.Handlers.Configured)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

// Merge applies a spider's custom_settings (spec.md §4.7.3a) onto a copy of
// base, restricted to known keys (IsKnownKey); unknown keys are reported so
// the caller can log them, rather than silently dropped. base is never
// mutated. Values are coerced with asInt, asDuration and asStringSlice, so a
// duration key such as "engine.request_timeout" accepts a time.Duration, a
// number (read as nanoseconds) or a string parsed by time.ParseDuration.
func Merge(base *Settings, custom map[string]any) (*Settings, []string) {
	merged := *base
	merged.Fingerprinter.IgnoreQueryParams = append([]string(nil), base.Fingerprinter.IgnoreQueryParams...)
	merged.Fingerprinter.KeepQueryParams = append([]string(nil), base.Fingerprinter.KeepQueryParams...)
	merged.Handlers.Configured = append([]string(nil), base.Handlers.Configured...)
	merged.Middlewares = append([]MiddlewareSettings(nil), base.Middlewares...)

	var unknown []string
	for key, value := range custom {
		lower := strings.ToLower(key)
		if !IsKnownKey(lower) {
			unknown = append(unknown, key)
			continue
		}
		applyKnownKey(&merged, lower, value)
	}
	return &merged, unknown
}

// applyKnownKey writes value into merged at the dotted path key, which has
// already been validated by IsKnownKey.
func applyKnownKey(merged *Settings, key string, value any) {
	switch key {
	case "engine.concurrency":
		if n, ok := asInt(value); ok {
			merged.Engine.Concurrency = n
		}
	case "engine.request_timeout":
		if d, ok := asDuration(value); ok {
			merged.Engine.RequestTimeout = d
		}
	case "queue.max_size":
		if n, ok := asInt(value); ok {
			merged.Queue.MaxSize = n
		}
	case "fingerprinter.ignore_query_params":
		if s, ok := asStringSlice(value); ok {
			merged.Fingerprinter.IgnoreQueryParams = s
		}
	case "fingerprinter.keep_query_params":
		if s, ok := asStringSlice(value); ok {
			merged.Fingerprinter.KeepQueryParams = s
		}
	case "fingerprinter.digest_size":
		if n, ok := asInt(value); ok {
			merged.Fingerprinter.DigestSize = n
		}
	case "handlers.configured":
		if s, ok := asStringSlice(value); ok {
			merged.Handlers.Configured = s
		}
	case "handlers.options":
		if m, ok := value.(map[string]any); ok {
			merged.Handlers.Options = m
		}
	case "logging.level":
		if s, ok := value.(string); ok {
			merged.Logging.Level = s
		}
	case "logging.format":
		if s, ok := value.(string); ok {
			merged.Logging.Format = s
		}
	case "metrics.enabled":
		if b, ok := value.(bool); ok {
			merged.Metrics.Enabled = b
		}
	case "metrics.port":
		if n, ok := asInt(value); ok {
			merged.Metrics.Port = n
		}
	case "metrics.path":
		if s, ok := value.(string); ok {
			merged.Metrics.Path = s
		}
	}
}
