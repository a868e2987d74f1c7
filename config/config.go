package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Scan      ScanConfig      `yaml:"scan"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Whois     WhoisConfig     `yaml:"whois"`
	Output    OutputConfig    `yaml:"output"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the shared Chromium process and page emulation.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Stealth applies anti-automation evasions to every page.
	Stealth bool `yaml:"stealth"` // default: true

	ViewportWidth  int `yaml:"viewport_width"`  // default: 1366
	ViewportHeight int `yaml:"viewport_height"` // default: 768

	// AcceptLanguage is sent with every navigation.
	AcceptLanguage string `yaml:"accept_language"` // default: "en-US,en;q=0.9"

	// ProtocolTimeout bounds every browser call other than navigation:
	// emulation, certificate bypass and in-page evaluation.
	ProtocolTimeout time.Duration `yaml:"protocol_timeout"` // default: 180s
}

// ScanConfig controls the retry ladder and its gates.
type ScanConfig struct {
	// TaskConcurrency bounds in-flight per-URL pipelines.
	TaskConcurrency int `yaml:"task_concurrency"` // default: 30

	// PageConcurrency bounds concurrently open browser pages.
	PageConcurrency int `yaml:"page_concurrency"` // default: 30

	// NavigationTimeout applies to each wait strategy separately.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 90s

	// EntropyThreshold is the bits/char cutoff for an obfuscated script.
	EntropyThreshold float64 `yaml:"entropy_threshold"` // default: 4.3

	// BlockedResourceTypes are aborted by request interception.
	BlockedResourceTypes []string `yaml:"blocked_resource_types"` // default: [image, stylesheet, font]

	// BlockedExtensions are aborted when a request URL ends with one of them.
	BlockedExtensions []string `yaml:"blocked_extensions"`

	// ProxyRetryErrors are error substrings that, seen on the direct or the
	// certificate-bypass rung, escalate a target to the proxy rung.
	ProxyRetryErrors []string `yaml:"proxy_retry_errors"`

	Delays DelayConfig `yaml:"delays"`
}

// DelayConfig holds the fixed pauses of the scan pipeline.
type DelayConfig struct {
	Warmup            time.Duration `yaml:"warmup"`             // after launch; default: 2.5s
	Settle            time.Duration `yaml:"settle"`             // after page open; default: 2.5s
	PostNavigation    time.Duration `yaml:"post_navigation"`    // default: 1s
	PostSuccess       time.Duration `yaml:"post_success"`       // default: 1s
	PostSuccessJitter time.Duration `yaml:"post_success_jitter"` // default: 500ms
	RelaunchCooldown  time.Duration `yaml:"relaunch_cooldown"`  // default: 3s
}

// ProxyConfig addresses the third-party forward proxy used by the last rung.
type ProxyConfig struct {
	// URLTemplate contains {api_key} and {url} placeholders.
	URLTemplate string `yaml:"url_template"`

	// APIKey is substituted into {api_key}. Read from the environment only.
	APIKey string `yaml:"-"`
}

// Enabled reports whether a proxied attempt can be built.
func (p ProxyConfig) Enabled() bool {
	if p.URLTemplate == "" {
		return false
	}
	return p.APIKey != "" || !strings.Contains(p.URLTemplate, "{api_key}")
}

// WhoisConfig controls registration-completeness lookups.
type WhoisConfig struct {
	Attempts        int           `yaml:"attempts"`          // default: 2
	Backoff         time.Duration `yaml:"backoff"`           // default: 2s
	Timeout         time.Duration `yaml:"timeout"`           // default: 20s
	RatePerSecond   float64       `yaml:"rate_per_second"`   // default: 5
	Burst           int           `yaml:"burst"`             // default: 5
	CacheTTL        time.Duration `yaml:"cache_ttl"`         // default: 1h
	CacheMaxEntries int           `yaml:"cache_max_entries"` // default: 10000
}

// OutputConfig controls where batches are read from and written to.
type OutputConfig struct {
	Dir         string `yaml:"dir"`          // default: "outputs"
	ResultsFile string `yaml:"results_file"` // default: "dom-dataset.csv"
	UploadsDir  string `yaml:"uploads_dir"`  // default: "uploads"

	// SQLitePath additionally stores every batch in a SQLite database when set.
	SQLitePath string `yaml:"sqlite_path"`

	// InputPause separates consecutive input files in directory mode.
	InputPause time.Duration `yaml:"input_pause"` // default: 5s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"` // default: true
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 1
	Burst             int     `yaml:"burst"`               // default: 5
}

// WebhookConfig controls completion notifications for API batches.
type WebhookConfig struct {
	Secret string `yaml:"-"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// Defaults returns the configuration used when neither a file nor the
// environment overrides a value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		Browser: BrowserConfig{
			Headless:        true,
			NoSandbox:       true,
			Stealth:         true,
			ViewportWidth:   1366,
			ViewportHeight:  768,
			AcceptLanguage:  "en-US,en;q=0.9",
			ProtocolTimeout: 180 * time.Second,
		},
		Scan: ScanConfig{
			TaskConcurrency:      30,
			PageConcurrency:      30,
			NavigationTimeout:    90 * time.Second,
			EntropyThreshold:     4.3,
			BlockedResourceTypes: []string{"image", "stylesheet", "font"},
			BlockedExtensions: []string{
				".zip", ".rar", ".pdf", ".exe", ".doc", ".xls",
				".msi", ".dmg", ".iso", ".7z", ".tar", ".gz", ".txt", ".apk",
				".rss", "appimage", ".mp3",
			},
			ProxyRetryErrors: []string{
				"ERR_SSL_VERSION_OR_CIPHER_MISMATCH",
				"ERR_SSL_PROTOCOL_ERROR",
				"ERR_SSL_UNRECOGNIZED_NAME_ALERT",
				"ERR_CERT_",
				"ERR_CONNECTION_REFUSED",
				"ERR_CONNECTION_RESET",
				"ERR_HTTP2_PROTOCOL_ERROR",
				"ERR_BLOCKED_BY_RESPONSE",
			},
			Delays: DelayConfig{
				Warmup:            2500 * time.Millisecond,
				Settle:            2500 * time.Millisecond,
				PostNavigation:    time.Second,
				PostSuccess:       time.Second,
				PostSuccessJitter: 500 * time.Millisecond,
				RelaunchCooldown:  3 * time.Second,
			},
		},
		Proxy: ProxyConfig{
			URLTemplate: "http://api.scraperapi.com/?api_key={api_key}&url={url}",
		},
		Whois: WhoisConfig{
			Attempts:        2,
			Backoff:         2 * time.Second,
			Timeout:         20 * time.Second,
			RatePerSecond:   5,
			Burst:           5,
			CacheTTL:        time.Hour,
			CacheMaxEntries: 10000,
		},
		Output: OutputConfig{
			Dir:         "outputs",
			ResultsFile: "dom-dataset.csv",
			UploadsDir:  "uploads",
			InputPause:  5 * time.Second,
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then PAGESIGNAL_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadEnvFile loads PAGESIGNAL_ENV_FILE, or .env when unset. Variables
// already present in the environment are never overwritten.
func loadEnvFile() error {
	path := os.Getenv("PAGESIGNAL_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOr("PAGESIGNAL_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntOr("PAGESIGNAL_PORT", cfg.Server.Port)
	cfg.Server.Mode = envOr("PAGESIGNAL_MODE", cfg.Server.Mode)

	cfg.Browser.Headless = envBoolOr("PAGESIGNAL_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.NoSandbox = envBoolOr("PAGESIGNAL_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.BrowserBin = envOr("PAGESIGNAL_BROWSER_BIN", cfg.Browser.BrowserBin)
	cfg.Browser.Stealth = envBoolOr("PAGESIGNAL_STEALTH", cfg.Browser.Stealth)
	cfg.Browser.AcceptLanguage = envOr("PAGESIGNAL_ACCEPT_LANGUAGE", cfg.Browser.AcceptLanguage)
	cfg.Browser.ProtocolTimeout = envDurationOr("PAGESIGNAL_PROTOCOL_TIMEOUT", cfg.Browser.ProtocolTimeout)

	cfg.Scan.TaskConcurrency = envIntOr("PAGESIGNAL_TASK_CONCURRENCY", cfg.Scan.TaskConcurrency)
	cfg.Scan.PageConcurrency = envIntOr("PAGESIGNAL_PAGE_CONCURRENCY", cfg.Scan.PageConcurrency)
	cfg.Scan.NavigationTimeout = envDurationOr("PAGESIGNAL_NAV_TIMEOUT", cfg.Scan.NavigationTimeout)
	cfg.Scan.EntropyThreshold = envFloatOr("PAGESIGNAL_ENTROPY_THRESHOLD", cfg.Scan.EntropyThreshold)
	cfg.Scan.BlockedResourceTypes = envSliceOr("PAGESIGNAL_BLOCKED_RESOURCES", cfg.Scan.BlockedResourceTypes)
	cfg.Scan.BlockedExtensions = envSliceOr("PAGESIGNAL_BLOCKED_EXTENSIONS", cfg.Scan.BlockedExtensions)
	cfg.Scan.ProxyRetryErrors = envSliceOr("PAGESIGNAL_PROXY_RETRY_ERRORS", cfg.Scan.ProxyRetryErrors)

	cfg.Proxy.URLTemplate = envOr("PAGESIGNAL_PROXY_TEMPLATE", cfg.Proxy.URLTemplate)
	cfg.Proxy.APIKey = envOr("SCRAPER_API_PROXY_PASS", cfg.Proxy.APIKey)
	cfg.Proxy.APIKey = envOr("PAGESIGNAL_PROXY_API_KEY", cfg.Proxy.APIKey)

	cfg.Whois.Attempts = envIntOr("PAGESIGNAL_WHOIS_ATTEMPTS", cfg.Whois.Attempts)
	cfg.Whois.Backoff = envDurationOr("PAGESIGNAL_WHOIS_BACKOFF", cfg.Whois.Backoff)
	cfg.Whois.Timeout = envDurationOr("PAGESIGNAL_WHOIS_TIMEOUT", cfg.Whois.Timeout)
	cfg.Whois.RatePerSecond = envFloatOr("PAGESIGNAL_WHOIS_RPS", cfg.Whois.RatePerSecond)
	cfg.Whois.CacheTTL = envDurationOr("PAGESIGNAL_WHOIS_CACHE_TTL", cfg.Whois.CacheTTL)

	cfg.Output.Dir = envOr("PAGESIGNAL_OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.ResultsFile = envOr("PAGESIGNAL_RESULTS_FILE", cfg.Output.ResultsFile)
	cfg.Output.UploadsDir = envOr("PAGESIGNAL_UPLOADS_DIR", cfg.Output.UploadsDir)
	cfg.Output.SQLitePath = envOr("PAGESIGNAL_SQLITE_PATH", cfg.Output.SQLitePath)
	cfg.Output.InputPause = envDurationOr("PAGESIGNAL_INPUT_PAUSE", cfg.Output.InputPause)

	cfg.Auth.Enabled = envBoolOr("PAGESIGNAL_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.APIKeys = envSliceOr("PAGESIGNAL_API_KEYS", cfg.Auth.APIKeys)

	cfg.RateLimit.RequestsPerSecond = envFloatOr("PAGESIGNAL_RATE_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = envIntOr("PAGESIGNAL_RATE_BURST", cfg.RateLimit.Burst)

	cfg.Webhook.Secret = envOr("PAGESIGNAL_WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Log.Level = envOr("PAGESIGNAL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("PAGESIGNAL_LOG_FORMAT", cfg.Log.Format)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
