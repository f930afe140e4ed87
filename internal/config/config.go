package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	YouTube    YouTubeConfig
	Harvest    HarvestConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	Checkpoint CheckpointConfig
	Feed       FeedConfig
	Output     OutputConfig
	Logging    LoggingConfig
}

type YouTubeConfig struct {
	APIKey          string
	UseOAuth        bool
	CredentialsFile string
	TokenFile       string
}

type HarvestConfig struct {
	PreferredLanguages  []string
	AllowAutoGenerated  bool
	SkipLiveStreams     bool
	SkipPrivate         bool
	ChannelConcurrency  int
	VideoConcurrency    int
	QuotaLimit          int
	QuotaTimezone       string
	MemoryCeilingMB     int
	VideoTimeout        time.Duration
	ChannelTimeout      time.Duration
	BatchTimeout        time.Duration
	MaxVideosPerChannel int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type CheckpointConfig struct {
	Dir string
}

type FeedConfig struct {
	Enabled bool
	Addr    string
}

type OutputConfig struct {
	Dir    string
	Format string
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		YouTube: YouTubeConfig{
			APIKey:          getEnv("YOUTUBE_API_KEY", ""),
			UseOAuth:        getEnvBool("YOUTUBE_USE_OAUTH", false),
			CredentialsFile: getEnv("YOUTUBE_CREDENTIALS_FILE", "credentials.json"),
			TokenFile:       getEnv("YOUTUBE_TOKEN_FILE", "token.json"),
		},
		Harvest: HarvestConfig{
			PreferredLanguages:  parseCommaSeparated(getEnv("PREFERRED_LANGUAGES", "en")),
			AllowAutoGenerated:  getEnvBool("ALLOW_AUTO_GENERATED", true),
			SkipLiveStreams:     getEnvBool("SKIP_LIVE_STREAMS", true),
			SkipPrivate:         getEnvBool("SKIP_PRIVATE", true),
			ChannelConcurrency:  getEnvInt("CHANNEL_CONCURRENCY", 3),
			VideoConcurrency:    getEnvInt("VIDEO_CONCURRENCY", 5),
			QuotaLimit:          getEnvInt("QUOTA_LIMIT", 10000),
			QuotaTimezone:       getEnv("QUOTA_TIMEZONE", "UTC"),
			MemoryCeilingMB:     getEnvInt("MEMORY_CEILING_MB", 1024),
			VideoTimeout:        getEnvDuration("VIDEO_TIMEOUT", 30*time.Second),
			ChannelTimeout:      getEnvDuration("CHANNEL_TIMEOUT", 60*time.Minute),
			BatchTimeout:        getEnvDuration("BATCH_TIMEOUT", 0),
			MaxVideosPerChannel: getEnvInt("MAX_VIDEOS_PER_CHANNEL", 0),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Enabled:  getEnvBool("POSTGRES_ENABLED", false),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "harvester"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "harvester"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Checkpoint: CheckpointConfig{
			Dir: getEnv("CHECKPOINT_DIR", "checkpoints"),
		},
		Feed: FeedConfig{
			Enabled: getEnvBool("FEED_ENABLED", false),
			Addr:    getEnv("FEED_ADDR", ":8077"),
		},
		Output: OutputConfig{
			Dir:    getEnv("OUTPUT_DIR", "transcripts"),
			Format: getEnv("OUTPUT_FORMAT", "text"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.YouTube.APIKey == "" && !c.YouTube.UseOAuth {
		return fmt.Errorf("YOUTUBE_API_KEY is required unless YOUTUBE_USE_OAUTH is set")
	}
	if c.Harvest.ChannelConcurrency < 1 || c.Harvest.ChannelConcurrency > 10 {
		return fmt.Errorf("CHANNEL_CONCURRENCY must be in 1..10")
	}
	if c.Harvest.VideoConcurrency < 1 || c.Harvest.VideoConcurrency > 20 {
		return fmt.Errorf("VIDEO_CONCURRENCY must be in 1..20")
	}
	if c.Harvest.QuotaLimit < 1 {
		return fmt.Errorf("QUOTA_LIMIT must be positive")
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("OUTPUT_FORMAT must be text or json")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
