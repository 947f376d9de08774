// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Site    SiteConfig    `mapstructure:"site"`
	Browser BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Extract ExtractConfig `mapstructure:"extract"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	StaticDir             string `mapstructure:"static_dir"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// SiteConfig describes the marketplace being archived.
type SiteConfig struct {
	Name               string `mapstructure:"name"`
	DomainMarker       string `mapstructure:"domain_marker"`
	Referer            string `mapstructure:"referer"`
	DefaultTitle       string `mapstructure:"default_title"`
	DefaultArchiveName string `mapstructure:"default_archive_name"`
}

// BrowserConfig configures the headless renderer.
type BrowserConfig struct {
	Headless                bool   `mapstructure:"headless"`
	NoSandbox               bool   `mapstructure:"no_sandbox"`
	UserAgent               string `mapstructure:"user_agent"`
	NavTimeoutSeconds       int    `mapstructure:"nav_timeout_seconds"`
	ImageWaitTimeoutSeconds int    `mapstructure:"image_wait_timeout_seconds"`
	MaxPages                int    `mapstructure:"max_pages"`
}

// FetchConfig configures image downloads.
type FetchConfig struct {
	TimeoutSeconds int                `mapstructure:"timeout_seconds"`
	MaxParallel    int                `mapstructure:"max_parallel"`
	UserAgent      string             `mapstructure:"user_agent"`
	Accept         string             `mapstructure:"accept"`
	AcceptLanguage string             `mapstructure:"accept_language"`
	PerHostRPS     float64            `mapstructure:"per_host_rps"`
	PerHostBurst   int                `mapstructure:"per_host_burst"`
	VariantRules   []urlnorm.RuleSpec `mapstructure:"variant_rules"`
}

// ExtractConfig tunes the extraction heuristic.
type ExtractConfig struct {
	MaxImages    int      `mapstructure:"max_images"`
	MinWidth     int      `mapstructure:"min_width"`
	MinHeight    int      `mapstructure:"min_height"`
	ExcludeTerms []string `mapstructure:"exclude_terms"`
}

// SessionConfig governs archive lifetime.
type SessionConfig struct {
	WorkDir              string `mapstructure:"work_dir"`
	RetentionSeconds     int    `mapstructure:"retention_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
	Registry             string `mapstructure:"registry"`
}

// StorageConfig selects where archives are kept.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// RedisConfig locates the shared session registry.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Hosting platforms inject a bare PORT.
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("PORT must be an integer: %w", err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("site.name", "Vinted")
	v.SetDefault("site.domain_marker", "vinted")
	v.SetDefault("site.referer", "https://www.vinted.dk/")
	v.SetDefault("site.default_title", "Vinted Listing")
	v.SetDefault("site.default_archive_name", "listing_images.zip")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.image_wait_timeout_seconds", 10)
	v.SetDefault("browser.max_pages", 4)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_parallel", 8)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.accept", "image/*,*/*;q=0.8")
	v.SetDefault("fetch.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetch.per_host_rps", 0)
	v.SetDefault("fetch.per_host_burst", 4)
	v.SetDefault("fetch.variant_rules", defaultVariantRules())
	v.SetDefault("extract.max_images", 20)
	v.SetDefault("extract.min_width", 100)
	v.SetDefault("extract.min_height", 100)
	v.SetDefault("extract.exclude_terms", []string{})
	v.SetDefault("session.work_dir", filepath.Join(os.TempDir(), "listing-archiver", "work"))
	v.SetDefault("session.retention_seconds", 3600)
	v.SetDefault("session.sweep_interval_seconds", 60)
	v.SetDefault("session.registry", "memory")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", filepath.Join(os.TempDir(), "listing-archiver", "archives"))
	v.SetDefault("storage.prefix", "archives")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "archiver")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// defaultVariantRules is the map form viper can merge with file overrides.
func defaultVariantRules() []map[string]string {
	specs := urlnorm.DefaultRuleSpecs()
	out := make([]map[string]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, map[string]string{"name": s.Name, "pattern": s.Pattern, "replacement": s.Replacement})
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Site.DomainMarker) == "" {
		return fmt.Errorf("site.domain_marker is required")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxParallel <= 0 {
		return fmt.Errorf("fetch.max_parallel must be > 0")
	}
	if c.Fetch.PerHostRPS < 0 {
		return fmt.Errorf("fetch.per_host_rps must be >= 0")
	}
	if c.Browser.MaxPages < 0 {
		return fmt.Errorf("browser.max_pages must be >= 0")
	}
	if c.Extract.MaxImages <= 0 {
		return fmt.Errorf("extract.max_images must be > 0")
	}
	if c.Session.RetentionSeconds <= 0 {
		return fmt.Errorf("session.retention_seconds must be > 0")
	}
	if strings.TrimSpace(c.Session.WorkDir) == "" {
		return fmt.Errorf("session.work_dir is required")
	}
	if _, err := urlnorm.CompileRules(c.Fetch.VariantRules); err != nil {
		return fmt.Errorf("fetch.variant_rules: %w", err)
	}
	switch c.Session.Registry {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when session.registry is redis")
		}
	default:
		return fmt.Errorf("session.registry must be memory or redis, got %q", c.Session.Registry)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
		if filepath.Clean(c.Storage.BaseDir) == filepath.Clean(c.Session.WorkDir) {
			return fmt.Errorf("storage.base_dir and session.work_dir must differ")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local, memory or gcs, got %q", c.Storage.Backend)
	}
	return nil
}

// RequestTimeout bounds one extraction request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// FetchHeaders are the per-request header overrides for image downloads.
func (c Config) FetchHeaders() http.Header {
	h := http.Header{}
	if c.Fetch.Accept != "" {
		h.Set("Accept", c.Fetch.Accept)
	}
	if c.Fetch.AcceptLanguage != "" {
		h.Set("Accept-Language", c.Fetch.AcceptLanguage)
	}
	return h
}

// Retention is how long archives stay downloadable.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Session.RetentionSeconds) * time.Second
}

// SweepInterval is how often expired sessions are purged.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSeconds) * time.Second
}
