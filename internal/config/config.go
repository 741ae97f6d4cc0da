package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Settlement     SettlementConfig     `mapstructure:"settlement"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Notifications  NotificationsConfig  `mapstructure:"notifications"`
	Security       SecurityConfig       `mapstructure:"security"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Export         ExportConfig         `mapstructure:"export"`
	AWS            AWSConfig            `mapstructure:"aws"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LedgerConfig holds ledger network selection and operator credentials.
// An empty operator account selects the simulated gateway.
type LedgerConfig struct {
	Network            string        `mapstructure:"network"` // "testnet", "previewnet", "mainnet"
	OperatorAccountID  string        `mapstructure:"operator_account_id"`
	OperatorPrivateKey string        `mapstructure:"operator_private_key"`
	EscrowAccountID    string        `mapstructure:"escrow_account_id"`
	EscrowPrivateKey   string        `mapstructure:"escrow_private_key"`
	PlatformAccountID  string        `mapstructure:"platform_account_id"`
	AuditorPrivateKey  string        `mapstructure:"auditor_private_key"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	InitialBalance     string        `mapstructure:"initial_balance"`
	SimulatedFloat     string        `mapstructure:"simulated_float"`
}

// Simulated reports whether no operator credentials are configured
func (c LedgerConfig) Simulated() bool {
	return c.OperatorAccountID == "" || c.OperatorPrivateKey == ""
}

// SettlementConfig holds pricing and escrow policy
type SettlementConfig struct {
	FeeRate             string `mapstructure:"fee_rate"`
	BuyerMargin         string `mapstructure:"buyer_margin"`
	EscrowHoldingMonths int    `mapstructure:"escrow_holding_months"`
	FaucetEnabled       bool   `mapstructure:"faucet_enabled"`
	FaucetBuffer        string `mapstructure:"faucet_buffer"`
}

// ReconciliationConfig controls the out-of-band reconciliation job
type ReconciliationConfig struct {
	Schedule         string        `mapstructure:"schedule"`
	PendingThreshold time.Duration `mapstructure:"pending_threshold"`
	ValidityWindow   time.Duration `mapstructure:"validity_window"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// NotificationsConfig controls the notification dispatcher and its channels
type NotificationsConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	FromAddress string        `mapstructure:"from_address"`
	SNSTopicARN string        `mapstructure:"sns_topic_arn"`
	EnableEmail bool          `mapstructure:"enable_email"`
	ContactTTL  time.Duration `mapstructure:"contact_ttl"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
	KeyEncryptionKey string `mapstructure:"key_encryption_key"`
	SignatureSecret  string `mapstructure:"signature_secret"`
}

// RateLimitConfig
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// ExportConfig
type ExportConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Schedule string `mapstructure:"schedule"`
}

// AWSConfig
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.read_timeout":     "15s",
	"server.write_timeout":    "60s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "10s",

	"database.host":             "localhost",
	"database.port":             5432,
	"database.user":             "agrilend",
	"database.password":         "",
	"database.db_name":          "agrilend",
	"database.ssl_mode":         "disable",
	"database.max_connections":  25,
	"database.max_idle_conns":   5,
	"database.max_lifetime":     "30m",
	"database.connect_attempts": 5,
	"database.connect_backoff":  "2s",
	"database.auto_migrate":     true,

	"ledger.network":              "testnet",
	"ledger.operator_account_id":  "",
	"ledger.operator_private_key": "",
	"ledger.escrow_account_id":    "",
	"ledger.escrow_private_key":   "",
	"ledger.platform_account_id":  "",
	"ledger.auditor_private_key":  "",
	"ledger.request_timeout":      "30s",
	"ledger.initial_balance":      "0.00001",
	"ledger.simulated_float":      "1000000",

	"settlement.fee_rate":              "0.02",
	"settlement.buyer_margin":          "0.05",
	"settlement.escrow_holding_months": 3,
	"settlement.faucet_enabled":        false,
	"settlement.faucet_buffer":         "1.0",

	"reconciliation.schedule":          "0 */5 * * * *",
	"reconciliation.pending_threshold": "2m",
	"reconciliation.validity_window":   "3m",
	"reconciliation.batch_size":        100,

	"notifications.queue_size":    512,
	"notifications.workers":       2,
	"notifications.max_attempts":  3,
	"notifications.retry_delay":   "2s",
	"notifications.send_timeout":  "10s",
	"notifications.from_address":  "no-reply@agrilend.local",
	"notifications.sns_topic_arn": "",
	"notifications.enable_email":  false,
	"notifications.contact_ttl":   "10m",

	"security.jwt_secret":         "",
	"security.jwt_issuer":         "agrilend-auth",
	"security.key_encryption_key": "",
	"security.signature_secret":   "",

	"rate_limit.window":       "1m",
	"rate_limit.max_requests": 30,

	"export.bucket":   "",
	"export.prefix":   "settlement-journal",
	"export.schedule": "0 30 0 * * *",

	"aws.region":            "eu-west-1",
	"aws.access_key_id":     "",
	"aws.secret_access_key": "",
	"aws.endpoint":          "",

	"logging.level":       "info",
	"logging.development": false,
}

// LoadConfig loads configuration from defaults, an optional file and AGRILEND_* environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("AGRILEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects combinations that cannot run
func (c *Config) Validate() error {
	if c.Settlement.EscrowHoldingMonths <= 0 {
		return fmt.Errorf("settlement.escrow_holding_months must be positive")
	}
	if c.Reconciliation.BatchSize <= 0 {
		return fmt.Errorf("reconciliation.batch_size must be positive")
	}
	if c.Notifications.QueueSize <= 0 || c.Notifications.Workers <= 0 {
		return fmt.Errorf("notifications queue size and workers must be positive")
	}
	if !c.Ledger.Simulated() && c.Ledger.EscrowAccountID != "" && c.Ledger.EscrowPrivateKey == "" {
		return fmt.Errorf("ledger.escrow_private_key is required when a separate escrow account is configured")
	}
	return nil
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
