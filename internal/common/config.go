package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/entitle/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Remote        RemoteConfig        `toml:"remote"`
	Inventory     InventoryConfig     `toml:"inventory"`
	Engine        EngineConfig        `toml:"engine"`
	Customization CustomizationConfig `toml:"customization"`
	Storage       StorageConfig       `toml:"storage"`
	Audit         AuditConfig         `toml:"audit"`
	Logging       LoggingConfig       `toml:"logging"`
}

// RemoteConfig describes the platform API
type RemoteConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`    // e.g. "30s", per HTTP call
	RateLimit int    `toml:"rate_limit"` // requests per second across all sessions, 0 = unlimited
}

// TimeoutDuration parses Timeout, falling back to 30s
func (r RemoteConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(r.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// InventoryConfig locates the flat credential files
type InventoryConfig struct {
	DataDir string `toml:"data_dir"` // holds 1m_tokens.txt and 3m_tokens.txt
}

// EngineConfig bounds the orchestrator
type EngineConfig struct {
	MaxWorkers       int `toml:"max_workers"`        // concurrent units cap
	MaxRetries       int `toml:"max_retries"`        // per-unit retry budget against store credentials
	OpsPerCredential int `toml:"ops_per_credential"` // grants one credential is assumed to carry
}

// CustomizationConfig is the default profile watermark applied after a grant
type CustomizationConfig struct {
	EnableNickname  bool   `toml:"enable_nickname"`
	EnableBio       bool   `toml:"enable_bio"`
	EnableAvatar    bool   `toml:"enable_avatar"`
	EnableBanner    bool   `toml:"enable_banner"`
	DefaultNickname string `toml:"default_nickname"`
	DefaultBio      string `toml:"default_bio"`
	AvatarDir       string `toml:"avatar_dir"` // an image is picked from here when the order names none
	BannerDir       string `toml:"banner_dir"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// AuditConfig drives the scheduled inventory purge
type AuditConfig struct {
	Enabled     bool   `toml:"enabled"`
	Schedule    string `toml:"schedule"`    // 5-field cron
	Concurrency int    `toml:"concurrency"` // parallel credential checks
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
	Dir        string   `toml:"dir"`         // log file directory when output includes "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Remote: RemoteConfig{
			BaseURL:   "http://localhost:8090/api",
			Timeout:   "30s",
			RateLimit: 20,
		},
		Inventory: InventoryConfig{
			DataDir: "./data",
		},
		Engine: EngineConfig{
			MaxWorkers:       30,
			MaxRetries:       3,
			OpsPerCredential: models.DefaultOperationsPerCredential,
		},
		Customization: CustomizationConfig{
			AvatarDir: "./data/avatars",
			BannerDir: "./data/banners",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/db",
			},
		},
		Audit: AuditConfig{
			Enabled:     false,
			Schedule:    "0 */6 * * *", // Every 6 hours
			Concurrency: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
			Dir:        "./logs",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ENTITLE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Remote configuration
	if baseURL := os.Getenv("ENTITLE_REMOTE_BASE_URL"); baseURL != "" {
		config.Remote.BaseURL = baseURL
	}
	if timeout := os.Getenv("ENTITLE_REMOTE_TIMEOUT"); timeout != "" {
		config.Remote.Timeout = timeout
	}
	if rl := os.Getenv("ENTITLE_REMOTE_RATE_LIMIT"); rl != "" {
		if v, err := strconv.Atoi(rl); err == nil {
			config.Remote.RateLimit = v
		}
	}

	// Inventory configuration
	if dataDir := os.Getenv("ENTITLE_DATA_DIR"); dataDir != "" {
		config.Inventory.DataDir = dataDir
	}

	// Engine configuration
	if workers := os.Getenv("ENTITLE_ENGINE_MAX_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil {
			config.Engine.MaxWorkers = v
		}
	}
	if retries := os.Getenv("ENTITLE_ENGINE_MAX_RETRIES"); retries != "" {
		if v, err := strconv.Atoi(retries); err == nil {
			config.Engine.MaxRetries = v
		}
	}

	// Customization configuration
	if nick := os.Getenv("ENTITLE_DEFAULT_NICKNAME"); nick != "" {
		config.Customization.DefaultNickname = nick
		config.Customization.EnableNickname = true
	}
	if bio := os.Getenv("ENTITLE_DEFAULT_BIO"); bio != "" {
		config.Customization.DefaultBio = bio
		config.Customization.EnableBio = true
	}

	// Storage configuration
	if badgerPath := os.Getenv("ENTITLE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Audit configuration
	if schedule := os.Getenv("ENTITLE_AUDIT_SCHEDULE"); schedule != "" {
		config.Audit.Schedule = schedule
		config.Audit.Enabled = true
	}

	// Logging configuration
	if level := os.Getenv("ENTITLE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ENTITLE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, baseURL, dataDir, logLevel string) {
	// Command-line flags have highest priority
	if baseURL != "" {
		config.Remote.BaseURL = baseURL
	}
	if dataDir != "" {
		config.Inventory.DataDir = dataDir
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("engine.max_workers must be at least 1, got %d", c.Engine.MaxWorkers)
	}
	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be at least 1, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.OpsPerCredential < 1 || c.Engine.OpsPerCredential > models.DefaultOperationsPerCredential {
		return fmt.Errorf("engine.ops_per_credential must be between 1 and %d, got %d",
			models.DefaultOperationsPerCredential, c.Engine.OpsPerCredential)
	}
	if c.Audit.Enabled {
		if err := ValidateSchedule(c.Audit.Schedule); err != nil {
			return fmt.Errorf("audit.schedule: %w", err)
		}
	}
	return nil
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
