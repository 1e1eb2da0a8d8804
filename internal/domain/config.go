package domain

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

// PostgresConfig holds PostgreSQL-specific settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"username"`
	Pass     string `mapstructure:"password"`
	SslMode  string `mapstructure:"ssl_mode"`
}

// DatabaseConfig holds local database settings. The local database only
// carries the sync blob history; documents live on the remote ledger.
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Path           string `mapstructure:"path"`
	Level          string `mapstructure:"level"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	MaxBackupCount int    `mapstructure:"max_backup_count"`
}

// LedgerConfig holds connection settings for the remote record ledger.
// Type "memory" keeps records in process and is meant for development and
// tests; "gateway" talks to a Horizon-style HTTP gateway.
type LedgerConfig struct {
	Type         string `mapstructure:"type"`
	GatewayURL   string `mapstructure:"gateway_url"`
	AccountScope string `mapstructure:"account_scope"`
	APIToken     string `mapstructure:"api_token"`
	TimeoutSecs  int    `mapstructure:"timeout_seconds"`
}

// MaintenanceConfig controls the scheduled orphan-chunk sweep.
type MaintenanceConfig struct {
	SweepEnabled  bool   `mapstructure:"sweep_enabled"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// Config holds the application's configuration, mapped from config.toml
type Config struct {
	Version       string // not read from the config file
	ConfigPath    string // not read from the config file
	SessionSecret string `mapstructure:"session_secret"`
	APIToken      string `mapstructure:"api_token"`

	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}
