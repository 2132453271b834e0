package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FieldSchema names the remote property that backs each canonical entity
// attribute. The remote workspace schema varies per deployment, so none of
// these are hardcoded in the mapper.
type FieldSchema struct {
	Title         string `yaml:"title" json:"title"`
	Status        string `yaml:"status" json:"status"`
	Date          string `yaml:"date" json:"date"`
	HardDeadline  string `yaml:"hard_deadline" json:"hard_deadline"`
	Urgent        string `yaml:"urgent" json:"urgent"`
	Important     string `yaml:"important" json:"important"`
	Note          string `yaml:"note" json:"note"`
	SessionLength string `yaml:"session_length" json:"session_length"`
	Estimate      string `yaml:"estimate" json:"estimate"`
	Order         string `yaml:"order" json:"order"`
}

// Collection binds one entity type to a remote collection and its schema.
type Collection struct {
	ID     string      `yaml:"id" json:"id"`
	Fields FieldSchema `yaml:"fields" json:"fields"`
}

// Config holds user preferences and remote workspace settings
type Config struct {
	// Remote workspace API
	APIToken   string                `yaml:"api_token" json:"api_token"`
	APIBaseURL string                `yaml:"api_base_url" json:"api_base_url"`
	APIVersion string                `yaml:"api_version" json:"api_version"`
	Collection map[string]Collection `yaml:"collections" json:"collections"`

	// Sync tuning
	PageDelayMs int `yaml:"page_delay_ms" json:"page_delay_ms"` // Proactive delay between page requests
	MaxRetries  int `yaml:"max_retries" json:"max_retries"`     // 0 = retry transient errors forever

	// Local HTTP status server
	ServePort int `yaml:"serve_port" json:"serve_port"`

	// Logging configuration
	LogLevel   string `yaml:"log_level" json:"log_level"`     // Log level: DEBUG, INFO, WARN, ERROR
	LogFile    string `yaml:"log_file" json:"log_file"`       // Path to log file
	LogConsole bool   `yaml:"log_console" json:"log_console"` // Enable console logging
}

// DefaultFieldSchema returns the property names used by the stock workspace
// templates. Deployments with renamed properties override them in config.yaml.
func DefaultFieldSchema() FieldSchema {
	return FieldSchema{
		Title:         "Name",
		Status:        "Status",
		Date:          "Due",
		HardDeadline:  "Hard Deadline",
		Urgent:        "Urgent",
		Important:     "Important",
		Note:          "Notes",
		SessionLength: "Session Length",
		Estimate:      "Estimate",
		Order:         "Order",
	}
}

// DefaultConfig returns default settings
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	logPath := ""
	if home != "" {
		logPath = filepath.Join(home, ".taskmirror", "logs", "taskmirror.log")
	}

	return &Config{
		APIToken:    os.Getenv("TASKMIRROR_API_TOKEN"),
		APIBaseURL:  getEnv("TASKMIRROR_API_URL", "https://api.notion.com/v1"),
		APIVersion:  getEnv("TASKMIRROR_API_VERSION", "2022-06-28"),
		Collection:  map[string]Collection{},
		PageDelayMs: getEnvInt("TASKMIRROR_PAGE_DELAY_MS", 350),
		MaxRetries:  0,
		ServePort:   getEnvInt("TASKMIRROR_SERVE_PORT", 8374),
		LogLevel:    getEnv("TASKMIRROR_LOG_LEVEL", "INFO"),
		LogFile:     getEnv("TASKMIRROR_LOG_FILE", logPath),
		LogConsole:  getEnv("TASKMIRROR_LOG_CONSOLE", "false") == "true",
	}
}

// CollectionFor returns the collection binding for an entity type, with the
// default field schema filled in for any property left unnamed.
func (c *Config) CollectionFor(entityType string) Collection {
	col := c.Collection[entityType]
	def := DefaultFieldSchema()
	if col.Fields.Title == "" {
		col.Fields.Title = def.Title
	}
	if col.Fields.Status == "" {
		col.Fields.Status = def.Status
	}
	if col.Fields.Date == "" {
		col.Fields.Date = def.Date
	}
	if col.Fields.HardDeadline == "" {
		col.Fields.HardDeadline = def.HardDeadline
	}
	if col.Fields.Urgent == "" {
		col.Fields.Urgent = def.Urgent
	}
	if col.Fields.Important == "" {
		col.Fields.Important = def.Important
	}
	if col.Fields.Note == "" {
		col.Fields.Note = def.Note
	}
	if col.Fields.SessionLength == "" {
		col.Fields.SessionLength = def.SessionLength
	}
	if col.Fields.Estimate == "" {
		col.Fields.Estimate = def.Estimate
	}
	if col.Fields.Order == "" {
		col.Fields.Order = def.Order
	}
	return col
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Load loads config from ~/.taskmirror/config.yaml
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(home, ".taskmirror", "config.yaml")

	// Check if exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Return defaults if no config
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Token from the environment always wins over the file
	if token := os.Getenv("TASKMIRROR_API_TOKEN"); token != "" {
		cfg.APIToken = token
	}

	return cfg, nil
}

// Save saves config to ~/.taskmirror/config.yaml
func (c *Config) Save() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".taskmirror")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
