package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks a finalized Settings snapshot for invalid values,
// called once by Crawler.Crawl after merging spider custom_settings
// (spec.md §4.7 step 3a).
func Validate(cfg *Settings) error {
	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 10_000 {
		return fmt.Errorf("engine.concurrency must be <= 10000, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Queue.MaxSize < 0 {
		return fmt.Errorf("queue.max_size must be >= 0, got %d", cfg.Queue.MaxSize)
	}
	if len(cfg.Fingerprinter.IgnoreQueryParams) > 0 && len(cfg.Fingerprinter.KeepQueryParams) > 0 {
		return fmt.Errorf("fingerprinter.ignore_query_params and keep_query_params are mutually exclusive")
	}
	if cfg.Fingerprinter.DigestSize < 1 {
		return fmt.Errorf("fingerprinter.digest_size must be >= 1, got %d", cfg.Fingerprinter.DigestSize)
	}
	if len(cfg.Handlers.Configured) == 0 {
		return fmt.Errorf("handlers.configured must name at least one handler")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid as a crawl seed.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// asInt coerces the permissive JSON/viper-decoded shapes a custom_settings
// value might arrive as (int, int64, float64) into an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// asDuration coerces a custom_settings value into a time.Duration: a
// time.Duration or int/float64 is treated as nanoseconds (matching how a
// Go struct field of type time.Duration already round-trips through
// mapstructure), a string is parsed with time.ParseDuration.
func asDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case int:
		return time.Duration(d), true
	case int64:
		return time.Duration(d), true
	case float64:
		return time.Duration(d), true
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// asStringSlice coerces a custom_settings value into a []string.
func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, elem := range s {
			str, ok := elem.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
