// Package config loads service configuration from YAML files and
// REQGUARD_* environment variables, layered over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reqguard/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("REQGUARD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("REQGUARD_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("REQGUARD_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("REQGUARD_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("REQGUARD_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	// Store configuration
	if storeType := os.Getenv("REQGUARD_STORE_TYPE"); storeType != "" {
		config.Store.Type = storeType
	}

	if dsn := os.Getenv("REQGUARD_DATABASE_DSN"); dsn != "" {
		config.Store.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("REQGUARD_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Store.Database.MaxOpenConns = conns
		}
	}

	if maxIdle := os.Getenv("REQGUARD_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Store.Database.MaxIdleConns = conns
		}
	}

	// Redis configuration
	if addr := os.Getenv("REQGUARD_REDIS_ADDR"); addr != "" {
		config.Store.Redis.Addr = addr
	}

	if password := os.Getenv("REQGUARD_REDIS_PASSWORD"); password != "" {
		config.Store.Redis.Password = password
	}

	if db := os.Getenv("REQGUARD_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.Store.Redis.DB = dbNum
		}
	}

	if poolSize := os.Getenv("REQGUARD_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.Store.Redis.PoolSize = size
		}
	}

	if prefix := os.Getenv("REQGUARD_REDIS_KEY_PREFIX"); prefix != "" {
		config.Store.Redis.KeyPrefix = prefix
	}

	// Governance configuration
	if block := os.Getenv("REQGUARD_BLOCK_DURATION"); block != "" {
		if d, err := time.ParseDuration(block); err == nil {
			config.Governance.BlockDuration = d
		}
	}

	if cleanup := os.Getenv("REQGUARD_CLEANUP_INTERVAL"); cleanup != "" {
		if d, err := time.ParseDuration(cleanup); err == nil {
			config.Governance.CleanupInterval = d
		}
	}

	if timeout := os.Getenv("REQGUARD_STORE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Governance.StoreTimeout = d
		}
	}

	// Suspicion configuration
	if threshold := os.Getenv("REQGUARD_HIGH_FREQUENCY_THRESHOLD"); threshold != "" {
		if n, err := strconv.ParseInt(threshold, 10, 64); err == nil {
			config.Suspicion.HighFrequencyThreshold = n
		}
	}

	if threshold := os.Getenv("REQGUARD_FLAG_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Suspicion.FlagThreshold = n
		}
	}

	if stale := os.Getenv("REQGUARD_ATTACK_STALE_AFTER"); stale != "" {
		if d, err := time.ParseDuration(stale); err == nil {
			config.Suspicion.AttackStaleAfter = d
		}
	}

	// Security configuration
	if auth := os.Getenv("REQGUARD_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}

	if token := os.Getenv("REQGUARD_ADMIN_TOKEN"); token != "" {
		config.Security.AdminToken = token
	}

	// Logging configuration
	if level := os.Getenv("REQGUARD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("REQGUARD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("REQGUARD_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("REQGUARD_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("REQGUARD_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("REQGUARD_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("REQGUARD_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Enable authentication for example
	config.Security.EnableAuth = true
	config.Security.AdminToken = "rgd_your-admin-token-here"

	// Example seed rule
	config.Governance.Rules = []models.Rule{
		{
			ID:          "login-per-minute",
			PathPattern: "/api/login",
			Method:      "POST",
			Window:      time.Minute,
			MaxRequests: 5,
			Priority:    100,
		},
		{
			ID:          "api-default",
			PathPattern: "/api/*",
			Window:      time.Minute,
			MaxRequests: 120,
		},
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
