package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Discord    DiscordConfig    `toml:"discord"`
	Backend    BackendConfig    `toml:"backend"`
	Storage    StorageConfig    `toml:"storage"`
	Generation GenerationConfig `toml:"generation"`
	Upscale    UpscaleConfig    `toml:"upscale"`
	Purge      PurgeConfig      `toml:"purge"`
	Civitai    CivitaiConfig    `toml:"civitai"`
	Server     ServerConfig     `toml:"server"`
	Logging    LoggingConfig    `toml:"logging"`
}

// DiscordConfig contains the bot identity and permission boundaries
type DiscordConfig struct {
	Token             string   `toml:"token"`               // Bot token for gateway + REST auth
	AppID             string   `toml:"app_id"`              // Application ID for webhook/command endpoints
	ScopeID           string   `toml:"scope_id"`            // Guild the bot registers its commands in
	AllowedChannelIDs []string `toml:"allowed_channel_ids"` // Channels where the entry command is accepted
	OwnerID           string   `toml:"owner_id"`            // User allowed to run banned/purge commands
}

// BackendConfig points at the local renderer API
type BackendConfig struct {
	BaseURL   string `toml:"base_url"`
	TimeoutMS int    `toml:"timeout_ms" validate:"min=1000"` // Generation deadline, not per-request timeout
}

// Timeout returns the generation deadline as a duration
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig represents the relational job store configuration
type SQLiteConfig struct {
	Path string `toml:"path"` // Database file path
}

// BadgerConfig represents the trigger-word cache store configuration
type BadgerConfig struct {
	Path string `toml:"path"` // Database directory path; defaults next to the sqlite file
}

// GenerationConfig contains render defaults and template locations
type GenerationConfig struct {
	DefaultNegativePrompt string `toml:"default_negative_prompt"` // Applied when a draft leaves the negative prompt empty
	TemplatesDir          string `toml:"templates_dir"`           // Directory containing workflow graph JSON
}

// UpscaleConfig controls the optional upscale pipeline
type UpscaleConfig struct {
	Enabled  bool   `toml:"enabled"`
	Model    string `toml:"model"`                                     // Upscale model filename on the renderer
	Workflow string `toml:"workflow" validate:"oneof=ultimate simple"` // Template variant
}

// PurgeConfig controls retention of terminal job rows
type PurgeConfig struct {
	MaxAgeHours   int `toml:"max_age_hours" validate:"min=1"`
	IntervalHours int `toml:"interval_hours" validate:"min=1"`
}

// MaxAge returns the retention window as a duration
func (p PurgeConfig) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeHours) * time.Hour
}

// Interval returns the sweep interval as a duration
func (p PurgeConfig) Interval() time.Duration {
	return time.Duration(p.IntervalHours) * time.Hour
}

// CivitaiConfig contains the optional metadata lookup credentials
type CivitaiConfig struct {
	APIKey string `toml:"api_key"`
}

// ServerConfig controls the operational health/status endpoint
type ServerConfig struct {
	Port int `toml:"port" validate:"min=0,max=65535"` // 0 disables the server
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed here; technical parameters
// (poll cadence, cache TTLs) are constants in their owning packages.
func NewDefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:   "http://127.0.0.1:8188",
			TimeoutMS: 300000, // 5 minutes per generation
		},
		Generation: GenerationConfig{
			TemplatesDir: "./templates",
		},
		Upscale: UpscaleConfig{
			Enabled:  false,
			Workflow: "ultimate",
		},
		Purge: PurgeConfig{
			MaxAgeHours:   48,
			IntervalHours: 6,
		},
		Server: ServerConfig{
			Port: 0, // Disabled unless configured
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path skips the file layer; env overrides always apply.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if token := os.Getenv("TOKEN"); token != "" {
		config.Discord.Token = token
	}
	if appID := os.Getenv("APP_ID"); appID != "" {
		config.Discord.AppID = appID
	}
	if scopeID := os.Getenv("SCOPE_ID"); scopeID != "" {
		config.Discord.ScopeID = scopeID
	}
	if channels := os.Getenv("ALLOWED_CHANNEL_IDS"); channels != "" {
		ids := []string{}
		for _, c := range strings.Split(channels, ",") {
			if trimmed := strings.TrimSpace(c); trimmed != "" {
				ids = append(ids, trimmed)
			}
		}
		if len(ids) > 0 {
			config.Discord.AllowedChannelIDs = ids
		}
	}
	if ownerID := os.Getenv("OWNER_ID"); ownerID != "" {
		config.Discord.OwnerID = ownerID
	}

	if baseURL := os.Getenv("BACKEND_BASE_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if timeoutMS := os.Getenv("BACKEND_TIMEOUT_MS"); timeoutMS != "" {
		if t, err := strconv.Atoi(timeoutMS); err == nil {
			config.Backend.TimeoutMS = t
		}
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		config.Storage.SQLite.Path = dbPath
	}
	if cachePath := os.Getenv("CACHE_PATH"); cachePath != "" {
		config.Storage.Badger.Path = cachePath
	}

	if negative := os.Getenv("DEFAULT_NEGATIVE_PROMPT"); negative != "" {
		config.Generation.DefaultNegativePrompt = negative
	}
	if templatesDir := os.Getenv("TEMPLATES_DIR"); templatesDir != "" {
		config.Generation.TemplatesDir = templatesDir
	}

	if enabled := os.Getenv("UPSCALE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Upscale.Enabled = e
		}
	}
	if model := os.Getenv("UPSCALE_MODEL"); model != "" {
		config.Upscale.Model = model
	}
	if workflow := os.Getenv("UPSCALE_WORKFLOW"); workflow != "" {
		config.Upscale.Workflow = workflow
	}

	if maxAge := os.Getenv("PURGE_MAX_AGE_HOURS"); maxAge != "" {
		if h, err := strconv.Atoi(maxAge); err == nil {
			config.Purge.MaxAgeHours = h
		}
	}
	if interval := os.Getenv("PURGE_INTERVAL_HOURS"); interval != "" {
		if h, err := strconv.Atoi(interval); err == nil {
			config.Purge.IntervalHours = h
		}
	}

	if apiKey := os.Getenv("CIVITAI_API_KEY"); apiKey != "" {
		config.Civitai.APIKey = apiKey
	}

	if port := os.Getenv("STATUS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
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

// normalize fills derived defaults that depend on other settings
func (c *Config) normalize() {
	if c.Storage.Badger.Path == "" && c.Storage.SQLite.Path != "" {
		c.Storage.Badger.Path = filepath.Join(filepath.Dir(c.Storage.SQLite.Path), "cache")
	}
	c.Upscale.Workflow = strings.ToLower(strings.TrimSpace(c.Upscale.Workflow))
}

var configValidate = validator.New()

// Validate checks the configuration and reports every problem with the
// field and environment variable it corresponds to.
func (c *Config) Validate() error {
	var problems []string

	required := []struct {
		value  string
		field  string
		envVar string
	}{
		{c.Discord.Token, "discord.token", "TOKEN"},
		{c.Discord.AppID, "discord.app_id", "APP_ID"},
		{c.Discord.ScopeID, "discord.scope_id", "SCOPE_ID"},
		{c.Discord.OwnerID, "discord.owner_id", "OWNER_ID"},
		{c.Storage.SQLite.Path, "storage.sqlite.path", "DB_PATH"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, fmt.Sprintf("%s is required (env %s)", r.field, r.envVar))
		}
	}

	if len(c.Discord.AllowedChannelIDs) == 0 {
		problems = append(problems, "discord.allowed_channel_ids needs at least one channel (env ALLOWED_CHANNEL_IDS)")
	}

	if c.Upscale.Enabled && strings.TrimSpace(c.Upscale.Model) == "" {
		problems = append(problems, "upscale.model is required when upscale is enabled (env UPSCALE_MODEL)")
	}

	if err := configValidate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fe := range validationErrors {
				problems = append(problems, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// IsChannelAllowed reports whether the entry command may run in channelID
func (c *Config) IsChannelAllowed(channelID string) bool {
	for _, id := range c.Discord.AllowedChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

// IsOwner reports whether userID is the configured owner
func (c *Config) IsOwner(userID string) bool {
	return userID != "" && userID == c.Discord.OwnerID
}
