// Package config loads pipeline settings from .env files, an optional YAML
// file and the process environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full settings tree for the collector, reducer and pipeline commands
type Config struct {
	Riot      RiotConfig      `yaml:"riot"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Ladder    LadderConfig    `yaml:"ladder"`
	Quota     QuotaConfig     `yaml:"quota"`
	HTTP      HTTPConfig      `yaml:"http"`
	Cache     CacheConfig     `yaml:"cache"`
	State     StateConfig     `yaml:"state"`
	Output    OutputConfig    `yaml:"output"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type RiotConfig struct {
	APIKey   string `yaml:"-"` // only ever read from the environment
	Platform string `yaml:"platform"`
	Region   string `yaml:"region"`
}

type CrawlConfig struct {
	MaxMatches       int   `yaml:"max_matches"`
	MaxNewPlayers    int   `yaml:"max_new_players"`
	PageSize         int   `yaml:"page_size"`
	LookbackDays     int   `yaml:"lookback_days"`
	Queues           []int `yaml:"queues"`
	ReprocessSeeds   bool  `yaml:"reprocess_seeds"`
	MaxMatchAttempts int   `yaml:"max_match_attempts"`
	CheckpointEvery  int   `yaml:"checkpoint_every"`
}

type LadderConfig struct {
	Tier       string `yaml:"tier"`
	Queue      string `yaml:"queue"`
	MaxPlayers int    `yaml:"max_players"`
}

type QuotaConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Identity  string        `yaml:"identity"`
	MaxMisses int           `yaml:"max_misses"`
	Window    time.Duration `yaml:"window"`
	BanTTL    time.Duration `yaml:"ban_ttl"`
}

type HTTPConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	CourtesyDelay        time.Duration `yaml:"courtesy_delay"`
	MaxAttemptsThrottled int           `yaml:"max_attempts_throttled"`
	MaxAttemptsServer    int           `yaml:"max_attempts_server"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	Jitter               time.Duration `yaml:"jitter"`
	MaxWait              time.Duration `yaml:"max_wait"`
}

type CacheConfig struct {
	URL string `yaml:"url"`
}

type StateConfig struct {
	Backend string `yaml:"backend"` // file or sqlite
	Path    string `yaml:"path"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Parquet     bool   `yaml:"parquet"`
	TursoURL    string `yaml:"turso_url"`
	TursoToken  string `yaml:"-"`
	DatabaseURL string `yaml:"-"`
}

type AggregateConfig struct {
	Patch        string `yaml:"patch"` // empty = every patch, "latest" = newest seen
	TopChampions int    `yaml:"top_champions"`
	MinTierGames int    `yaml:"min_tier_games"`
}

type NotifyConfig struct {
	DiscordWebhookURL string `yaml:"-"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Refresh time.Duration `yaml:"refresh"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Default returns the built-in settings before any file or environment overlay
func Default() *Config {
	return &Config{
		Riot: RiotConfig{Platform: "na1", Region: "americas"},
		Crawl: CrawlConfig{
			MaxMatches:       500,
			MaxNewPlayers:    200,
			PageSize:         20,
			LookbackDays:     14,
			Queues:           []int{420},
			MaxMatchAttempts: 3,
			CheckpointEvery:  25,
		},
		Ladder: LadderConfig{Tier: "CHALLENGER", Queue: "RANKED_SOLO_5x5", MaxPlayers: 50},
		Quota: QuotaConfig{
			RedisAddr: "localhost:6379",
			Identity:  "collector",
			MaxMisses: 900,
			Window:    10 * time.Minute,
			BanTTL:    time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:              30 * time.Second,
			CourtesyDelay:        100 * time.Millisecond,
			MaxAttemptsThrottled: 5,
			MaxAttemptsServer:    3,
			BaseDelay:            time.Second,
			Jitter:               500 * time.Millisecond,
			MaxWait:              30 * time.Second,
		},
		Cache:     CacheConfig{URL: "file:///var/lib/match-ingest/cache"},
		State:     StateConfig{Backend: "file", Path: "state"},
		Output:    OutputConfig{Dir: "output"},
		Aggregate: AggregateConfig{TopChampions: 10, MinTierGames: 20},
		Server:    ServerConfig{Addr: ":8080", Refresh: time.Minute},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// envPaths are the locations searched for a .env file, first hit wins
var envPaths = []string{".env", "../.env", "../../.env"}

// LoadDotEnv loads the first .env file found. A missing file is not an error.
func LoadDotEnv(logger *slog.Logger) {
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			if logger != nil {
				logger.Debug("dotenv_loaded", "path", path)
			}
			return
		}
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadOffline is Load for commands that never call the upstream API (the
// reducer and the artifact server), so the credential is optional
func LoadOffline(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requireKey bool) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, &ConfigError{Field: path, Reason: fmt.Sprintf("is not valid YAML: %v", err)}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(requireKey); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Riot.APIKey = strings.Trim(getEnv("RIOT_API_KEY", c.Riot.APIKey), "\"")
	c.Riot.Platform = strings.ToLower(getEnv("RIOT_PLATFORM", c.Riot.Platform))
	c.Riot.Region = strings.ToLower(getEnv("RIOT_REGION", c.Riot.Region))

	c.Crawl.MaxMatches = getEnvInt("CRAWL_MAX_MATCHES", c.Crawl.MaxMatches)
	c.Crawl.MaxNewPlayers = getEnvInt("CRAWL_MAX_NEW_PLAYERS", c.Crawl.MaxNewPlayers)
	c.Crawl.PageSize = getEnvInt("CRAWL_PAGE_SIZE", c.Crawl.PageSize)
	c.Crawl.LookbackDays = getEnvInt("CRAWL_LOOKBACK_DAYS", c.Crawl.LookbackDays)
	c.Crawl.MaxMatchAttempts = getEnvInt("CRAWL_MAX_MATCH_ATTEMPTS", c.Crawl.MaxMatchAttempts)
	c.Crawl.CheckpointEvery = getEnvInt("CRAWL_CHECKPOINT_EVERY", c.Crawl.CheckpointEvery)
	c.Crawl.ReprocessSeeds = getEnvBool("REPROCESS_SEEDS", c.Crawl.ReprocessSeeds)
	if v := os.Getenv("CRAWL_QUEUES"); v != "" {
		queues, err := parseIntList(v)
		if err != nil {
			return &ConfigError{Field: "CRAWL_QUEUES", Reason: err.Error()}
		}
		c.Crawl.Queues = queues
	}

	c.Ladder.Tier = strings.ToUpper(getEnv("LADDER_TIER", c.Ladder.Tier))
	c.Ladder.Queue = getEnv("LADDER_QUEUE", c.Ladder.Queue)
	c.Ladder.MaxPlayers = getEnvInt("LADDER_MAX_PLAYERS", c.Ladder.MaxPlayers)

	c.Quota.RedisAddr = getEnv("QUOTA_REDIS_ADDR", c.Quota.RedisAddr)
	c.Quota.Identity = getEnv("QUOTA_IDENTITY", c.Quota.Identity)
	c.Quota.MaxMisses = getEnvInt("QUOTA_MAX_MISSES", c.Quota.MaxMisses)
	c.Quota.Window = getEnvDuration("QUOTA_WINDOW", c.Quota.Window)
	c.Quota.BanTTL = getEnvDuration("QUOTA_BAN_TTL", c.Quota.BanTTL)

	c.HTTP.Timeout = getEnvDuration("HTTP_TIMEOUT", c.HTTP.Timeout)
	c.HTTP.CourtesyDelay = getEnvDuration("HTTP_COURTESY_DELAY", c.HTTP.CourtesyDelay)
	c.HTTP.MaxAttemptsThrottled = getEnvInt("HTTP_MAX_ATTEMPTS_THROTTLED", c.HTTP.MaxAttemptsThrottled)
	c.HTTP.MaxAttemptsServer = getEnvInt("HTTP_MAX_ATTEMPTS_SERVER", c.HTTP.MaxAttemptsServer)
	c.HTTP.BaseDelay = getEnvDuration("HTTP_BASE_DELAY", c.HTTP.BaseDelay)
	c.HTTP.Jitter = getEnvDuration("HTTP_JITTER", c.HTTP.Jitter)
	c.HTTP.MaxWait = getEnvDuration("HTTP_MAX_WAIT", c.HTTP.MaxWait)

	c.Cache.URL = getEnv("MATCH_CACHE_URL", c.Cache.URL)
	c.State.Backend = strings.ToLower(getEnv("STATE_BACKEND", c.State.Backend))
	c.State.Path = getEnv("STATE_PATH", c.State.Path)

	c.Output.Dir = getEnv("OUTPUT_DIR", c.Output.Dir)
	c.Output.Parquet = getEnvBool("PARQUET_ENABLED", c.Output.Parquet)
	c.Output.TursoURL = getEnv("TURSO_DATABASE_URL", c.Output.TursoURL)
	c.Output.TursoToken = getEnv("TURSO_AUTH_TOKEN", c.Output.TursoToken)
	c.Output.DatabaseURL = getEnv("DATABASE_URL", c.Output.DatabaseURL)

	c.Aggregate.Patch = getEnv("AGGREGATE_PATCH", c.Aggregate.Patch)
	c.Aggregate.TopChampions = getEnvInt("AGGREGATE_TOP_CHAMPIONS", c.Aggregate.TopChampions)
	c.Aggregate.MinTierGames = getEnvInt("AGGREGATE_MIN_TIER_GAMES", c.Aggregate.MinTierGames)

	c.Notify.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", c.Notify.DiscordWebhookURL)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.Refresh = getEnvDuration("SERVER_REFRESH", c.Server.Refresh)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	return nil
}

// Validate checks every setting the pipeline cannot run without
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireKey bool) error {
	if requireKey && c.Riot.APIKey == "" {
		return &ConfigError{Field: "RIOT_API_KEY", Reason: "is required"}
	}
	if c.Riot.Platform == "" {
		return &ConfigError{Field: "RIOT_PLATFORM", Reason: "is required"}
	}
	if c.Riot.Region == "" {
		return &ConfigError{Field: "RIOT_REGION", Reason: "is required"}
	}

	positive := []struct {
		field string
		value int
	}{
		{"CRAWL_MAX_MATCHES", c.Crawl.MaxMatches},
		{"CRAWL_MAX_NEW_PLAYERS", c.Crawl.MaxNewPlayers},
		{"CRAWL_PAGE_SIZE", c.Crawl.PageSize},
		{"CRAWL_LOOKBACK_DAYS", c.Crawl.LookbackDays},
		{"CRAWL_MAX_MATCH_ATTEMPTS", c.Crawl.MaxMatchAttempts},
		{"LADDER_MAX_PLAYERS", c.Ladder.MaxPlayers},
		{"QUOTA_MAX_MISSES", c.Quota.MaxMisses},
		{"HTTP_MAX_ATTEMPTS_THROTTLED", c.HTTP.MaxAttemptsThrottled},
		{"HTTP_MAX_ATTEMPTS_SERVER", c.HTTP.MaxAttemptsServer},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Reason: "must be positive"}
		}
	}
	// match-v5 caps a listing page at 100 ids
	if c.Crawl.PageSize > 100 {
		return &ConfigError{Field: "CRAWL_PAGE_SIZE", Reason: "must be at most 100"}
	}
	if len(c.Crawl.Queues) == 0 {
		return &ConfigError{Field: "CRAWL_QUEUES", Reason: "must list at least one queue id"}
	}
	if c.Quota.RedisAddr == "" {
		return &ConfigError{Field: "QUOTA_REDIS_ADDR", Reason: "is required"}
	}
	if c.Quota.Identity == "" {
		return &ConfigError{Field: "QUOTA_IDENTITY", Reason: "is required"}
	}
	if c.Quota.Window <= 0 || c.Quota.BanTTL <= 0 {
		return &ConfigError{Field: "QUOTA_WINDOW/QUOTA_BAN_TTL", Reason: "must be positive durations"}
	}
	if c.Server.Refresh <= 0 {
		return &ConfigError{Field: "SERVER_REFRESH", Reason: "must be a positive duration"}
	}
	if c.Cache.URL == "" {
		return &ConfigError{Field: "MATCH_CACHE_URL", Reason: "is required"}
	}
	switch c.State.Backend {
	case "file", "sqlite":
	default:
		return &ConfigError{Field: "STATE_BACKEND", Reason: fmt.Sprintf("unknown backend %q (want file or sqlite)", c.State.Backend)}
	}
	if c.State.Path == "" {
		return &ConfigError{Field: "STATE_PATH", Reason: "is required"}
	}
	if (c.Output.TursoURL == "") != (c.Output.TursoToken == "") && !strings.HasPrefix(c.Output.TursoURL, "file:") {
		return &ConfigError{Field: "TURSO_DATABASE_URL/TURSO_AUTH_TOKEN", Reason: "must be set together"}
	}
	return nil
}

// PlatformURL is the base URL for platform-routed endpoints (league, summoner)
func (c *Config) PlatformURL() string {
	return fmt.Sprintf("https://%s.api.riotgames.com", c.Riot.Platform)
}

// RegionalURL is the base URL for regionally routed endpoints (match, account)
func (c *Config) RegionalURL() string {
	return fmt.Sprintf("https://%s.api.riotgames.com", c.Riot.Region)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid queue id %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
