package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	PublicURL string // external base URL, used for the OAuth redirect (ex: https://marks.domain.ext)

	// OIDC
	OAuthIssuer       string   // issuer URL used for discovery
	OAuthClientID     string   // client id registered at the issuer
	OAuthClientSecret string   // client secret
	OAuthScopes       []string // extra scopes, openid is always requested

	// Session
	SessionSecret string        // HMAC key for the OAuth state parameter
	SessionTTL    time.Duration // session lifetime (default: 720h)
	CookieName    string        // session cookie name (default: smartmark_session)
	CookieSecure  bool          // mark the session cookie Secure

	SessionCheckInterval time.Duration // live views re-verify their session this often (default: 1m, 0 = writes only)

	// Sync
	ResyncInterval    time.Duration // list refetch interval while the feed is down (default: 30s, 0 = off)
	FeedRetryInterval time.Duration // initial wait before resubscribing (default: 500ms)
	FeedMaxWait       time.Duration // max wait between resubscribe attempts (default: 10s)
	ListRetryAttempts int           // attempts per list fetch (default: 3)

	// Import
	ImportFile     string        // path to a homepage bookmarks.yaml (optional, empty = importer disabled)
	ImportOwner    string        // identity id that owns imported bookmarks
	ImportInterval time.Duration // interval to re-import the file (default: 24h)

	Storage

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict /healthz, /readyz, /infra and /admin to these networks
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

// Storage holds what a process needs to reach Redis and log.
type Storage struct {
	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
}

// LoadStorage reads the logging and Redis settings only. Used by one-shot
// commands that never serve HTTP.
func LoadStorage() *Storage {
	st := &Storage{
		// Logging
		LogLevel:  getenv("SMARTMARK_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SMARTMARK_PRETTY_LOG", true),

		// Redis settings
		RedisAddr:             requireEnv("SMARTMARK_REDIS_ADDR"),
		RedisUser:             getenv("SMARTMARK_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("SMARTMARK_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("SMARTMARK_REDIS_PASSWORD", ""),
		RedisDB:               requireEnvInt("SMARTMARK_REDIS_DB"),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
	}

	// Validate Redis password configuration
	if st.RedisPasswordRequired && st.RedisPassword == "" {
		panic("❌ FATAL: SMARTMARK_REDIS_PASSWORD is required when SMARTMARK_REDIS_PASSWORD_REQUIRED=true")
	}

	return st
}

func Load() *Config {
	st := LoadStorage()
	publicURL := strings.TrimRight(requireEnv("SMARTMARK_PUBLIC_URL"), "/")

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SMARTMARK_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("SMARTMARK_SHUTDOWN_TIMEOUT", 5*time.Second),

		PublicURL: publicURL,

		// OIDC
		OAuthIssuer:       requireEnv("SMARTMARK_OAUTH_ISSUER"),
		OAuthClientID:     requireEnv("SMARTMARK_OAUTH_CLIENT_ID"),
		OAuthClientSecret: requireEnv("SMARTMARK_OAUTH_CLIENT_SECRET"),
		OAuthScopes:       splitAndTrim(getenv("SMARTMARK_OAUTH_SCOPES", "profile,email")),

		// Session
		SessionSecret: requireEnv("SMARTMARK_SESSION_SECRET"),
		SessionTTL:    mustDuration("SMARTMARK_SESSION_TTL", 720*time.Hour),
		CookieName:    getenv("SMARTMARK_COOKIE_NAME", "smartmark_session"),
		CookieSecure:  mustBool("SMARTMARK_COOKIE_SECURE", strings.HasPrefix(publicURL, "https://")),

		SessionCheckInterval: mustDuration("SMARTMARK_SESSION_CHECK_INTERVAL", time.Minute),

		// Sync
		ResyncInterval:    mustDuration("SMARTMARK_RESYNC_INTERVAL", 30*time.Second),
		FeedRetryInterval: mustDuration("SMARTMARK_FEED_RETRY_INTERVAL", 500*time.Millisecond),
		FeedMaxWait:       mustDuration("SMARTMARK_FEED_MAX_WAIT", 10*time.Second),
		ListRetryAttempts: getenvInt("SMARTMARK_LIST_RETRY_ATTEMPTS", 3),

		// Import
		ImportFile:     getenv("SMARTMARK_IMPORT_FILE", ""), // Optional, empty = importer disabled
		ImportOwner:    getenv("SMARTMARK_IMPORT_OWNER", ""),
		ImportInterval: mustDuration("SMARTMARK_IMPORT_INTERVAL", 24*time.Hour),

		Storage: *st,

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("SMARTMARK_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("SMARTMARK_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("SMARTMARK_TRUST_PROXY", true),
	}

	if len(cfg.SessionSecret) < 32 {
		panic("❌ FATAL: SMARTMARK_SESSION_SECRET must be at least 32 characters")
	}
	if cfg.ImportFile != "" && cfg.ImportOwner == "" {
		panic("❌ FATAL: SMARTMARK_IMPORT_OWNER is required when SMARTMARK_IMPORT_FILE is set")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.OAuthClientSecret = "***REDACTED***"
	c.SessionSecret = "***REDACTED***"
	c.RedisPassword = "***REDACTED***"
	if c.RedisUser != "" {
		c.RedisUser = "***REDACTED***"
	}
	return c
}

// RedirectURL is the OAuth callback registered at the issuer.
func (c *Config) RedirectURL() string {
	return c.PublicURL + "/auth/callback"
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func requireEnvSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return splitAndTrim(v)
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
