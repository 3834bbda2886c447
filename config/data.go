package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every setting read from the environment
const envPrefix = "MEDIAGENT_"

// Size is a derived image variant bounding box
type Size struct {
	Width, Height int
}

// Config holds everything the agent reads from its environment.
// It is loaded once in main and passed to each component explicitly.
type Config struct {
	DataDir      string
	UploadsDir   string
	BaseURL      string
	ListenAddr   string
	TargetFormat string
	PollInterval time.Duration

	SiteKey    string
	SiteSecret string

	BackupBackend    string
	BackupRetention  time.Duration
	BackupAccessInfo map[string]string

	RedisAddr      string
	RedisNamespace string
	CDNPurgeURL    string
	PageCacheDir   string
	CallbackURL    string

	VariantSizes []Size
	ReservedKeys []string

	LogFile  string
	LogLevel string
}

// Load reads the MEDIAGENT_* environment into a Config, applying defaults
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        getEnv("DATA_DIR", "./data"),
		UploadsDir:     getEnv("UPLOADS_DIR", "./uploads"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080/uploads"), "/"),
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		TargetFormat:   strings.ToLower(getEnv("TARGET_FORMAT", "webp")),
		SiteKey:        getEnv("SITE_KEY", ""),
		SiteSecret:     getEnv("SITE_SECRET", ""),
		BackupBackend:  strings.ToLower(getEnv("BACKUP_BACKEND", "local")),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisNamespace: getEnv("REDIS_NAMESPACE", "mediagent"),
		CDNPurgeURL:    getEnv("CDN_PURGE_URL", ""),
		PageCacheDir:   getEnv("PAGE_CACHE_DIR", ""),
		CallbackURL:    getEnv("CALLBACK_URL", ""),
		LogFile:        getEnv("LOG_FILE", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.BackupRetention, err = getDuration("BACKUP_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.VariantSizes, err = ParseSizes(getEnv("VARIANT_SIZES", "150x150,300x300,1024x1024")); err != nil {
		return nil, err
	}
	cfg.ReservedKeys = splitList(getEnv("RESERVED_KEYS", "_transient,_site_transient,cron,__"))
	cfg.BackupAccessInfo = backupAccessInfo()

	switch cfg.TargetFormat {
	case "webp", "avif":
	default:
		return nil, fmt.Errorf("unsupported target format %q", cfg.TargetFormat)
	}
	return cfg, nil
}

// QueueDBPath is the Pebble directory holding the conversion queue record and drain lock
func (c *Config) QueueDBPath() string { return filepath.Join(c.DataDir, "queue.db") }

// HistoryDBPath holds conversion history entries
func (c *Config) HistoryDBPath() string { return filepath.Join(c.DataDir, "history.db") }

func (c *Config) FailuresDBPath() string { return filepath.Join(c.DataDir, "failures.db") }

func (c *Config) CredentialsDBPath() string { return filepath.Join(c.DataDir, "credentials.db") }

func (c *Config) MediaDBPath() string { return filepath.Join(c.DataDir, "media.db") }

func (c *Config) ContentDBPath() string { return filepath.Join(c.DataDir, "content.db") }

func (c *Config) RedirectsDBPath() string { return filepath.Join(c.DataDir, "redirects.db") }

// BackupDir is where the local backup backend keeps originals
func (c *Config) BackupDir() string { return filepath.Join(c.DataDir, "backups") }

// LockFilePath guards the data directory against a second agent process
func (c *Config) LockFilePath() string { return filepath.Join(c.DataDir, "mediagent.lock") }

// ParseSizes parses "WxH,WxH" into sizes
func ParseSizes(s string) ([]Size, error) {
	var sizes []Size
	for _, part := range splitList(s) {
		w, h, ok := strings.Cut(part, "x")
		if !ok {
			return nil, fmt.Errorf("invalid variant size %q", part)
		}
		width, err := strconv.Atoi(w)
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("invalid variant width in %q", part)
		}
		height, err := strconv.Atoi(h)
		if err != nil || height <= 0 {
			return nil, fmt.Errorf("invalid variant height in %q", part)
		}
		sizes = append(sizes, Size{Width: width, Height: height})
	}
	return sizes, nil
}

// backupAccessInfo collects MEDIAGENT_BACKUP_<NAME> variables into backend access info.
// MEDIAGENT_BACKUP_ACCESS_KEY becomes "accessKey", matching the backend key names.
func backupAccessInfo() map[string]string {
	info := make(map[string]string)
	prefix := envPrefix + "BACKUP_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		key := strings.TrimPrefix(name, prefix)
		if key == "BACKEND" || key == "RETENTION" {
			continue
		}
		info[camelKey(key)] = value
	}
	return info
}

func camelKey(upper string) string {
	parts := strings.Split(strings.ToLower(upper), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	key := strings.Join(parts, "")
	// the GCS service account key keeps its historical spelling
	if key == "credentialsJson" {
		return "credentialsJSON"
	}
	return key
}

func getEnv(name, def string) string {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v
	}
	return def
}

func getDuration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s%s: must be positive", envPrefix, name)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
