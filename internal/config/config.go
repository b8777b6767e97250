package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Ledger     LedgerConfig     `json:"ledger"`
	Settlement SettlementConfig `json:"settlement"`
	Windows    WindowsConfig    `json:"windows"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"db_name"`
	SSLMode      string        `json:"ssl_mode"`
	MaxConns     int           `json:"max_connections"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
}

// LedgerConfig selects and configures the settlement executor.
// Mode "memory" runs the in-process executor; "stellar" submits to Horizon.
type LedgerConfig struct {
	Mode              string `json:"mode"`
	HorizonURL        string `json:"horizon_url"`
	Network           string `json:"network"` // "testnet", "public"
	OperatorSecretKey string `json:"operator_secret_key"`
	IssuerAddress     string `json:"issuer_address"`
	SettlementAsset   string `json:"settlement_asset"`
	SettlementIssuer  string `json:"settlement_issuer"`
}

// SettlementConfig tunes leg execution and reconciliation
type SettlementConfig struct {
	MaxAttempts         int           `json:"max_attempts"`
	BackoffBase         time.Duration `json:"backoff_base"`
	BackoffCap          time.Duration `json:"backoff_cap"`
	ConfirmPollInterval time.Duration `json:"confirm_poll_interval"`
	ConfirmTimeout      time.Duration `json:"confirm_timeout"`
	SettlementCurrency  string        `json:"settlement_currency"`
	ReconcileInterval   time.Duration `json:"reconcile_interval"`
	PendingTimeout      time.Duration `json:"pending_timeout"`
}

// WindowsConfig tunes the window scheduler
type WindowsConfig struct {
	SweepInterval time.Duration `json:"sweep_interval"`
	ProcessingSLA time.Duration `json:"processing_sla"`
	DefaultNAV    string        `json:"default_nav"`
}

// AuthConfig
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "redemption_platform",
			SSLMode: "disable",
		},
		Ledger: LedgerConfig{
			Mode:    "memory",
			Network: "testnet",
		},
		Settlement: SettlementConfig{
			MaxAttempts:         5,
			BackoffBase:         2 * time.Second,
			BackoffCap:          2 * time.Minute,
			ConfirmPollInterval: 10 * time.Second,
			ConfirmTimeout:      5 * time.Minute,
			SettlementCurrency:  "USD",
			ReconcileInterval:   5 * time.Minute,
			PendingTimeout:      10 * time.Minute,
		},
		Windows: WindowsConfig{
			SweepInterval: time.Minute,
			ProcessingSLA: time.Hour,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if mode := os.Getenv("LEDGER_MODE"); mode != "" {
		config.Ledger.Mode = mode
	}
	if url := os.Getenv("HORIZON_URL"); url != "" {
		config.Ledger.HorizonURL = url
	}
	if key := os.Getenv("OPERATOR_SECRET_KEY"); key != "" {
		config.Ledger.OperatorSecretKey = key
	}
	if issuer := os.Getenv("ISSUER_ADDRESS"); issuer != "" {
		config.Ledger.IssuerAddress = issuer
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
