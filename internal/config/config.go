package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gymkaana/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Backup     BackupConfig     `yaml:"backup"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Client     ClientConfig     `yaml:"client"`
	CheckIn    CheckInConfig    `yaml:"checkin"`
	Activity   ActivityConfig   `yaml:"activity"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
	Seed       SeedConfig       `yaml:"seed"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	Lookup    LookupLimitConfig  `yaml:"lookup_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LookupLimitConfig throttles token lookups per client to slow down token guessing.
type LookupLimitConfig struct {
	Attempts      int `yaml:"attempts"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (c LookupLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ClientConfig describes how the check-in console reaches the entry API.
type ClientConfig struct {
	BaseURL         string      `yaml:"base_url"`
	APIKey          string      `yaml:"api_key"`
	VenueID         string      `yaml:"venue_id"`
	TimeoutSeconds  int         `yaml:"timeout_seconds"`
	CacheTTLSeconds int         `yaml:"cache_ttl_seconds"`
	Retry           RetryConfig `yaml:"retry"`
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type RetryConfig struct {
	MaxRetries         int     `yaml:"max_retries"`
	InitialDelayMillis int     `yaml:"initial_delay_ms"`
	MaxDelayMillis     int     `yaml:"max_delay_ms"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
}

type CheckInConfig struct {
	TokenMarker         string `yaml:"token_marker"`
	CameraSource        string `yaml:"camera_source"`
	ScanFPS             int    `yaml:"scan_fps"`
	ScanRegion          int    `yaml:"scan_region"`
	ErrorResetSeconds   int    `yaml:"error_reset_seconds"`
	SuccessResetSeconds int    `yaml:"success_reset_seconds"`
}

func (c CheckInConfig) ErrorResetDelay() time.Duration {
	return time.Duration(c.ErrorResetSeconds) * time.Second
}

func (c CheckInConfig) SuccessResetDelay() time.Duration {
	return time.Duration(c.SuccessResetSeconds) * time.Second
}

type ActivityConfig struct {
	Limit          int `yaml:"limit"`
	RefreshSeconds int `yaml:"refresh_seconds"`
}

func (c ActivityConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type SeedConfig struct {
	BookingsPath string `yaml:"bookings_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	ManagerChatIDs []int64 `yaml:"manager_chat_ids"`
	Debug          bool    `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackupConfig controls periodic snapshots of the entry database.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

func (c BackupConfig) Interval() time.Duration {
	if d, err := time.ParseDuration(c.Schedule); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.CheckIn.TokenMarker) == "" {
		return errors.New("checkin token marker is required")
	}
	if c.CheckIn.ScanFPS <= 0 {
		return fmt.Errorf("checkin scan_fps must be positive, got %d", c.CheckIn.ScanFPS)
	}
	if c.Activity.Limit < models.MinActivityLimit {
		return fmt.Errorf("activity limit must be at least %d, got %d", models.MinActivityLimit, c.Activity.Limit)
	}
	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateClient checks the settings the check-in console needs.
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return errors.New("client base_url is required")
	}
	return nil
}

// ValidateServer checks the settings the entry API needs.
func (c *Config) ValidateServer() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api keys configured")
	}
	return nil
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Lookup.Attempts == 0 {
		c.API.Lookup.Attempts = models.LookupAttemptLimit
	}
	if c.API.Lookup.WindowSeconds == 0 {
		c.API.Lookup.WindowSeconds = models.LookupAttemptWindow
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}

	if c.Client.TimeoutSeconds == 0 {
		c.Client.TimeoutSeconds = 10
	}
	if c.Client.Retry.MaxRetries == 0 {
		c.Client.Retry.MaxRetries = 3
	}

	// Check-in defaults
	if c.CheckIn.TokenMarker == "" {
		c.CheckIn.TokenMarker = models.DefaultTokenMarker
	}
	if c.CheckIn.ScanFPS == 0 {
		c.CheckIn.ScanFPS = models.DefaultScanFPS
	}
	if c.CheckIn.ScanRegion == 0 {
		c.CheckIn.ScanRegion = models.DefaultScanRegion
	}
	if c.CheckIn.ErrorResetSeconds == 0 {
		c.CheckIn.ErrorResetSeconds = models.DefaultErrorResetSeconds
	}
	if c.CheckIn.SuccessResetSeconds == 0 {
		c.CheckIn.SuccessResetSeconds = models.DefaultSuccessResetSeconds
	}
	if c.Activity.Limit == 0 {
		c.Activity.Limit = models.DefaultActivityLimit
	}
	if c.Activity.RefreshSeconds == 0 {
		c.Activity.RefreshSeconds = models.DefaultActivityRefreshSeconds
	}
}
