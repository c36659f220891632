package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Files    FilesConfig
	Browser  BrowserConfig
	Identity IdentityConfig
	Crawl    CrawlConfig
	Pacing   PacingConfig
	Ledger   LedgerConfig
	Status   StatusConfig
	Notify   NotifyConfig
	Log      LogConfig
}

// FilesConfig names the on-disk collaborators of a run.
type FilesConfig struct {
	// TargetList is the JSON array of profile URLs to visit.
	TargetList string // default: "url_list.json"

	// SeenSet is the JSON array of URLs whose processing has concluded.
	SeenSet string // default: "scraped_links.json"

	// Results is the newline-delimited JSON log of extracted records.
	Results string // default: "results.json"

	// ExtraStealthScript is injected into every session when the file exists.
	ExtraStealthScript string // default: "stealth.min.js"
}

// BrowserConfig controls the Rod browser instances.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is an optional upstream proxy for every session.
	Proxy string
}

// IdentityConfig controls the fingerprint pool.
type IdentityConfig struct {
	// PoolFile is an optional YAML file replacing the embedded pool.
	PoolFile string
}

// CrawlConfig controls the per-target attempt loop and challenge handling.
type CrawlConfig struct {
	MaxAttempts int // default: 3

	// NavigationTimeout bounds the interactive-wait navigation of an attempt.
	NavigationTimeout time.Duration // default: 20s

	// StructureTimeout bounds the wait for StructureSelector.
	StructureTimeout time.Duration // default: 3s

	StructureSelector string // default: "h2.pp-overview__title"
	StructurePhrase   string // default: "Company Overview"
	NotFoundMarker    string // default: "404 - Profile not found | PitchBook"

	// ChallengePhrases are the substrings that mark a bot-check interstitial.
	ChallengePhrases []string

	// Referers is the pool a referer is drawn from for each navigation.
	Referers []string

	// FailureThreshold is the whole-target failure streak that forces rotation.
	FailureThreshold int // default: 2

	// NavigationsPerMinute caps navigations across attempts and resolvers.
	// Zero disables the cap.
	NavigationsPerMinute float64 // default: 0

	// LaunchAttempts bounds the tries at creating one session.
	LaunchAttempts int // default: 3
}

// PacingConfig controls scheduling delays around and inside targets.
type PacingConfig struct {
	AttemptJitterMin time.Duration // default: 1.5s
	AttemptJitterMax time.Duration // default: 3s

	InterTargetMin time.Duration // default: 3s
	InterTargetMax time.Duration // default: 4s

	RotateEvery int // default: 20

	MediumPauseEvery int           // default: 40
	MediumPauseMin   time.Duration // default: 5s
	MediumPauseMax   time.Duration // default: 10s

	LongPauseEvery int           // default: 1500
	LongPauseMin   time.Duration // default: 50s
	LongPauseMax   time.Duration // default: 60s

	// LaunchBackoff is the wait between failed session creations.
	LaunchBackoffMin time.Duration // default: 2s
	LaunchBackoffMax time.Duration // default: 5s
}

// LedgerConfig selects where the seen-set lives.
type LedgerConfig struct {
	// Backend is "file" or "redis"; default: "file".
	Backend string

	RedisAddr string // default: "localhost:6379"
	RedisKey  string // default: "harvest:seen"
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string
	Mode string // "debug", "release", "test"; default: "release"

	// APIKeys guard the progress and metrics routes. Empty leaves them open.
	APIKeys []string
}

// NotifyConfig controls the end-of-run webhook.
type NotifyConfig struct {
	// WebhookURL receives a run.completed or run.interrupted event; empty disables it.
	WebhookURL string

	// WebhookSecret signs the body with HMAC-SHA256 when set.
	WebhookSecret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// DefaultChallengePhrases are the interstitial signatures checked on every
// rendered page.
var DefaultChallengePhrases = []string{
	"Just a moment",
	"Checking your browser",
	"Ray ID",
	"Verifying you are human",
	"/cdn-cgi/challenge-platform/",
	"Cloudflare Security",
}

// DefaultReferers are search-engine landing pages used as navigation referers.
var DefaultReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://search.yahoo.com/",
	"https://duckduckgo.com/",
	"https://www.ecosia.org/",
	"https://www.startpage.com/",
	"https://www.qwant.com/",
	"https://www.aol.com/",
	"https://search.brave.com/",
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Files: FilesConfig{
			TargetList:         envOr("HARVEST_TARGET_LIST", "url_list.json"),
			SeenSet:            envOr("HARVEST_SEEN_SET", "scraped_links.json"),
			Results:            envOr("HARVEST_RESULTS", "results.json"),
			ExtraStealthScript: envOr("HARVEST_STEALTH_SCRIPT", "stealth.min.js"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("HARVEST_HEADLESS", true),
			NoSandbox:  envBoolOr("HARVEST_NO_SANDBOX", true),
			BrowserBin: os.Getenv("HARVEST_BROWSER_BIN"),
			Proxy:      os.Getenv("HARVEST_PROXY"),
		},
		Identity: IdentityConfig{
			PoolFile: os.Getenv("HARVEST_IDENTITY_POOL"),
		},
		Crawl: CrawlConfig{
			MaxAttempts:          envIntOr("HARVEST_MAX_ATTEMPTS", 3),
			NavigationTimeout:    envDurationOr("HARVEST_NAV_TIMEOUT", 20*time.Second),
			StructureTimeout:     envDurationOr("HARVEST_STRUCTURE_TIMEOUT", 3*time.Second),
			StructureSelector:    envOr("HARVEST_STRUCTURE_SELECTOR", "h2.pp-overview__title"),
			StructurePhrase:      envOr("HARVEST_STRUCTURE_PHRASE", "Company Overview"),
			NotFoundMarker:       envOr("HARVEST_NOT_FOUND_MARKER", "404 - Profile not found | PitchBook"),
			ChallengePhrases:     envSliceOr("HARVEST_CHALLENGE_PHRASES", DefaultChallengePhrases),
			Referers:             envSliceOr("HARVEST_REFERERS", DefaultReferers),
			FailureThreshold:     envIntOr("HARVEST_FAILURE_THRESHOLD", 2),
			NavigationsPerMinute: envFloatOr("HARVEST_NAV_PER_MINUTE", 0),
			LaunchAttempts:       envIntOr("HARVEST_LAUNCH_ATTEMPTS", 3),
		},
		Pacing: PacingConfig{
			AttemptJitterMin: envDurationOr("HARVEST_JITTER_MIN", 1500*time.Millisecond),
			AttemptJitterMax: envDurationOr("HARVEST_JITTER_MAX", 3*time.Second),
			InterTargetMin:   envDurationOr("HARVEST_DELAY_MIN", 3*time.Second),
			InterTargetMax:   envDurationOr("HARVEST_DELAY_MAX", 4*time.Second),
			RotateEvery:      envIntOr("HARVEST_ROTATE_EVERY", 20),
			MediumPauseEvery: envIntOr("HARVEST_MEDIUM_PAUSE_EVERY", 40),
			MediumPauseMin:   envDurationOr("HARVEST_MEDIUM_PAUSE_MIN", 5*time.Second),
			MediumPauseMax:   envDurationOr("HARVEST_MEDIUM_PAUSE_MAX", 10*time.Second),
			LongPauseEvery:   envIntOr("HARVEST_LONG_PAUSE_EVERY", 1500),
			LongPauseMin:     envDurationOr("HARVEST_LONG_PAUSE_MIN", 50*time.Second),
			LongPauseMax:     envDurationOr("HARVEST_LONG_PAUSE_MAX", 60*time.Second),
			LaunchBackoffMin: envDurationOr("HARVEST_LAUNCH_BACKOFF_MIN", 2*time.Second),
			LaunchBackoffMax: envDurationOr("HARVEST_LAUNCH_BACKOFF_MAX", 5*time.Second),
		},
		Ledger: LedgerConfig{
			Backend:   envOr("HARVEST_LEDGER_BACKEND", "file"),
			RedisAddr: envOr("HARVEST_REDIS_ADDR", "localhost:6379"),
			RedisKey:  envOr("HARVEST_REDIS_KEY", "harvest:seen"),
		},
		Status: StatusConfig{
			Addr:    os.Getenv("HARVEST_STATUS_ADDR"),
			Mode:    envOr("HARVEST_STATUS_MODE", "release"),
			APIKeys: envSliceOr("HARVEST_STATUS_KEYS", nil),
		},
		Notify: NotifyConfig{
			WebhookURL:    os.Getenv("HARVEST_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("HARVEST_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("HARVEST_LOG_LEVEL", "info"),
			Format: envOr("HARVEST_LOG_FORMAT", "text"),
		},
	}
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

// envSliceOr splits a comma-separated value. Challenge phrases and referers
// never contain commas.
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
