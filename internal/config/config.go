package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/text/language"

	"github.com/developingchet/view-count/internal/badge"
	"github.com/developingchet/view-count/internal/identity"
)

// Store backends.
const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config holds all runtime configuration.
type Config struct {
	// HTTP
	ListenAddr     string        `koanf:"listen_addr"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	CDNCacheBypass bool          `koanf:"cdn_cache_bypass"`
	TrustedProxies string        `koanf:"trusted_proxies"`

	// Storage
	DataDir          string        `koanf:"data_dir"`
	StoreBackend     string        `koanf:"store_backend"`
	StoreOpenTimeout time.Duration `koanf:"store_open_timeout"`
	StoreMaxAttempts int           `koanf:"store_max_attempts"`

	// Badge look
	BadgeLocale        string  `koanf:"badge_locale"`
	BadgeLabelViews    string  `koanf:"badge_label_views"`
	BadgeLabelVisitors string  `koanf:"badge_label_visitors"`
	BadgeLabelColor    string  `koanf:"badge_label_color"`
	BadgeCountColor    string  `koanf:"badge_count_color"`
	BadgeTextColor     string  `koanf:"badge_text_color"`
	BadgeFontFamily    string  `koanf:"badge_font_family"`
	BadgeFontSize      float64 `koanf:"badge_font_size"`

	// Usage reporting
	UsageReportInterval time.Duration `koanf:"usage_report_interval"`
	UsageWebhookURL     string        `koanf:"usage_webhook_url"`
	UsageWebhookToken   string        `koanf:"usage_webhook_token"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"` // "" = disabled

	// Derived during Load.
	Proxies []netip.Prefix `koanf:"-"`
	Locale  language.Tag   `koanf:"-"`

	// Set by the binary from its link-time version.
	BuildVersion string `koanf:"-"`

	compatErrs []string
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"listen_addr":           ":8080",
	"cache_ttl":             30 * time.Minute,
	"cdn_cache_bypass":      false,
	"trusted_proxies":       "",
	"data_dir":              "/data",
	"store_backend":         BackendBolt,
	"store_open_timeout":    2 * time.Second,
	"store_max_attempts":    10,
	"badge_locale":          "en-US",
	"badge_label_views":     "Views",
	"badge_label_visitors":  "Visitors",
	"badge_label_color":     "#555",
	"badge_count_color":     "#4c1",
	"badge_text_color":      "#fff",
	"badge_font_family":     "Verdana,Geneva,DejaVu Sans,sans-serif",
	"badge_font_size":       11.0,
	"usage_report_interval": 30 * time.Minute,
	"usage_webhook_url":     "",
	"usage_webhook_token":   "",
	"log_level":             "info",
	"log_format":            "json",
	"janitor_interval":      time.Minute,
	"metrics_enabled":       true,
	"metrics_addr":          ":9090",
}

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	// Layer 3: environment variables.
	// Transform: "LISTEN_ADDR" → "listen_addr".
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Normalise string fields.
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))
	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(cfg.StoreBackend))
	cfg.BadgeLocale = strings.TrimSpace(cfg.BadgeLocale)

	// Secrets may be mounted as files (Docker/Kubernetes secrets).
	if os.Getenv("USAGE_WEBHOOK_TOKEN") == "" {
		if path := os.Getenv("USAGE_WEBHOOK_TOKEN_FILE"); path != "" {
			if b, err := os.ReadFile(path); err == nil {
				cfg.UsageWebhookToken = strings.TrimSpace(string(b))
			} else {
				cfg.compatErrs = append(cfg.compatErrs, fmt.Sprintf("USAGE_WEBHOOK_TOKEN_FILE unreadable: %v", err))
			}
		}
	}

	// v1 compat: CACHE_TTL_MS was integer milliseconds.
	if os.Getenv("CACHE_TTL") == "" {
		if raw := strings.TrimSpace(os.Getenv("CACHE_TTL_MS")); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				cfg.compatErrs = append(cfg.compatErrs, "CACHE_TTL_MS must be an integer number of milliseconds")
			} else {
				cfg.CacheTTL = time.Duration(ms) * time.Millisecond
			}
		}
	}

	// v1 compat: honour SERVER_PORT if LISTEN_ADDR is not explicitly set.
	if os.Getenv("LISTEN_ADDR") == "" {
		if raw := strings.TrimSpace(os.Getenv("SERVER_PORT")); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil || port < 1 || port > 65535 {
				cfg.compatErrs = append(cfg.compatErrs, "SERVER_PORT must be a port number between 1 and 65535")
			} else {
				cfg.ListenAddr = ":" + strconv.Itoa(port)
			}
		}
	}

	// METRICS_ENABLED=false always wins over METRICS_ADDR.
	if !cfg.MetricsEnabled {
		cfg.MetricsAddr = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	errs := append([]string(nil), c.compatErrs...)

	switch c.StoreBackend {
	case BackendBolt, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be %q or %q, got %q", BackendBolt, BackendMemory, c.StoreBackend))
	}
	if c.StoreMaxAttempts < 1 {
		errs = append(errs, "STORE_MAX_ATTEMPTS must be at least 1")
	}
	if c.StoreOpenTimeout <= 0 {
		errs = append(errs, "STORE_OPEN_TIMEOUT must be positive")
	}
	if c.CacheTTL < 0 {
		errs = append(errs, "CACHE_TTL must not be negative")
	}
	if c.BadgeFontSize <= 0 {
		errs = append(errs, "BADGE_FONT_SIZE must be positive")
	}
	if c.UsageReportInterval < time.Minute {
		errs = append(errs, "USAGE_REPORT_INTERVAL must be at least 1m")
	}
	if c.JanitorInterval < time.Second {
		errs = append(errs, "JANITOR_INTERVAL must be at least 1s")
	}
	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR is required (e.g., :8080)")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf(`LOG_FORMAT must be "json" or "text", got %q`, c.LogFormat))
	}

	tag, err := language.Parse(c.BadgeLocale)
	if err != nil {
		errs = append(errs, fmt.Sprintf("BADGE_LOCALE %q is not a valid BCP 47 tag", c.BadgeLocale))
	} else {
		c.Locale = tag
	}

	proxies, err := identity.ParsePrefixes(c.TrustedProxies)
	if err != nil {
		errs = append(errs, "TRUSTED_PROXIES: "+err.Error())
	} else {
		c.Proxies = proxies
	}

	// DataDir path sanitisation: reject traversal sequences and null bytes.
	if strings.Contains(c.DataDir, "..") {
		errs = append(errs, `DATA_DIR must not contain ".." (directory traversal)`)
	}
	if strings.ContainsRune(c.DataDir, 0) {
		errs = append(errs, "DATA_DIR must not contain null bytes")
	}
	if c.StoreBackend == BackendBolt && c.DataDir == "" {
		errs = append(errs, "DATA_DIR is required for the bolt backend")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// BadgeStyle returns the configured look with the given label.
func (c *Config) BadgeStyle(label string) badge.Style {
	return badge.Style{
		Label:                label,
		LabelBackgroundColor: c.BadgeLabelColor,
		CountBackgroundColor: c.BadgeCountColor,
		TextColor:            c.BadgeTextColor,
		FontFamily:           c.BadgeFontFamily,
		FontSize:             c.BadgeFontSize,
		Locale:               c.Locale,
	}.Merge(badge.DefaultStyle())
}
