package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

var configTemplate = `# config.toml

# API token used by devices to authenticate against this server.
# It will be generated automatically on the first run if not set.
api_token = "{{ .apiToken }}"

# Session secret
# This is a randomly generated secret key for session cookie management.
# It will be generated automatically on the first run if not set.
session_secret = "{{ .sessionSecret }}"

[server]
  # Hostname or IP address for the server to listen on.
  # Default: "{{ .host }}" (e.g., "127.0.0.1" for local access, "0.0.0.0" for all interfaces)
  host = "{{ .host }}"

  # Port for the server to listen on.
  # Default: 8484
  port = 8484

  # Base URL for serving the application under a subdirectory.
  # Leave empty if serving from the root or using a subdomain.
  # Optional.
  # Default: ""
  #base_url = ""

[database]
  # Local database for the sync blob history.
  # Supported: "sqlite", "postgres"
  # Default: "sqlite"
  type = "sqlite"

  # --- PostgreSQL Settings ---
  # Only used if database.type is set to "postgres".
  [database.postgres]
    # Default: "localhost"
    host = "localhost"

    # Default: 5432
    port = 5432

    # Default: "postgres"
    database = "postgres"

    # Default: "postgres"
    username = "postgres"

    # Default: "postgres"
    password = "postgres"

    # Options: "disable", "allow", "prefer", "require", "verify-ca", "verify-full"
    # Default: "disable"
    ssl_mode = "disable"

[logging]
  # Log file path.
  # If empty or not set, logs go to standard error only.
  # Optional.
  # Default: ""
  path = "log/"

  # Log level.
  # Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
  # Default: "DEBUG"
  level = "DEBUG"

  # Maximum size of a log file in megabytes (MB) before it is rotated.
  # Default: 50
  max_file_size = 50

  # Maximum number of old log files to keep.
  # Default: 3
  max_backup_count = 3

[ledger]
  # Record ledger backend for encrypted documents.
  # "memory" keeps records in process (development), "gateway" talks to a
  # remote HTTP gateway.
  # Default: "memory"
  type = "memory"

  # Gateway base URL, used when type is "gateway".
  # Default: ""
  gateway_url = ""

  # Account scope all records are stored under.
  # Default: "default"
  account_scope = "default"

  # Bearer token for the gateway.
  # Optional.
  # Default: ""
  api_token = ""

  # Request timeout in seconds for gateway calls.
  # Default: 10
  timeout_seconds = 10

[maintenance]
  # Enable the scheduled sweep reclaiming orphaned chunk records.
  # Default: true
  sweep_enabled = true

  # Cron schedule for the sweep job.
  # Default: "0 4 * * *" (4 AM every day)
  sweep_schedule = "0 4 * * *"
`

var generateRandomString = func(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func writeConfig(configPath string, configFile string) error {
	cfgPath := filepath.Join(configPath, configFile)

	// check if configPath exists, if not create it
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		err := os.MkdirAll(configPath, os.ModePerm)
		if err != nil {
			log.Println(err)
			return err
		}
	}

	// check if config exists, if not create it
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		// set default host
		host := "127.0.0.1"

		if _, dockerErr := os.Stat("/.dockerenv"); dockerErr == nil {
			host = "0.0.0.0"
		} else if pd, cgroupErr := os.Open("/proc/1/cgroup"); cgroupErr == nil {
			defer func(pd *os.File) {
				if errClose := pd.Close(); errClose != nil {
					log.Printf("error closing proc/cgroup: %q", errClose)
				}
			}(pd)
			b := make([]byte, 4096)
			if _, readErr := pd.Read(b); readErr == nil {
				if strings.Contains(string(b), "/docker") || strings.Contains(string(b), "/lxc") {
					host = "0.0.0.0"
				}
			}
		}

		f, createErr := os.Create(cfgPath)
		if createErr != nil {
			log.Printf("error creating file: %q", createErr)
			return createErr
		}
		defer func(f *os.File) {
			if errClose := f.Close(); errClose != nil {
				log.Printf("error closing file: %q", errClose)
			}
		}(f)

		sessionSecret, secretErr := generateRandomString(16)
		if secretErr != nil {
			return errors.Wrap(secretErr, "could not generate session secret")
		}
		apiToken, tokenErr := generateRandomString(16)
		if tokenErr != nil {
			return errors.Wrap(tokenErr, "could not generate api token")
		}

		tmpl, tmplErr := template.New("config").Parse(configTemplate)
		if tmplErr != nil {
			return errors.Wrap(tmplErr, "could not create config template")
		}

		tmplVars := map[string]string{
			"host":          host,
			"sessionSecret": sessionSecret,
			"apiToken":      apiToken,
		}

		var buffer bytes.Buffer
		if execErr := tmpl.Execute(&buffer, &tmplVars); execErr != nil {
			return errors.Wrap(execErr, "could not write config template output")
		}

		if _, writeErr := f.WriteString(buffer.String()); writeErr != nil {
			log.Printf("error writing contents to file: %v %q", configPath, writeErr)
			return writeErr
		}

		return f.Sync()
	}

	return nil
}

type Config interface {
	DynamicReload(log logger.Logger)
}

type AppConfig struct {
	Config *domain.Config
	m      sync.Mutex
}

func New(configPath string, version string) *AppConfig {
	c := &AppConfig{}
	c.defaults()
	c.Config.Version = version
	c.Config.ConfigPath = configPath

	c.load(configPath)

	return c
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Version:       "dev",
		ConfigPath:    "",
		SessionSecret: "secret-session-key",
		APIToken:      "",
		Server: domain.ServerConfig{
			Host:    "127.0.0.1",
			Port:    8484,
			BaseURL: "",
		},
		Database: domain.DatabaseConfig{
			Type: "sqlite",
			Postgres: domain.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "postgres",
				User:     "postgres",
				Pass:     "postgres",
				SslMode:  "disable",
			},
		},
		Logging: domain.LoggingConfig{
			Path:           "",
			Level:          "DEBUG",
			MaxFileSize:    50,
			MaxBackupCount: 3,
		},
		Ledger: domain.LedgerConfig{
			Type:         "memory",
			GatewayURL:   "",
			AccountScope: "default",
			APIToken:     "",
			TimeoutSecs:  10,
		},
		Maintenance: domain.MaintenanceConfig{
			SweepEnabled:  true,
			SweepSchedule: "0 4 * * *",
		},
	}
}

func (c *AppConfig) load(configPath string) {
	viper.SetConfigType("toml")
	configPath = path.Clean(configPath)

	if configPath != "" {
		if err := writeConfig(configPath, "config.toml"); err != nil {
			log.Printf("writeConfig error during load: %q", err)
		}
		viper.SetConfigFile(path.Join(configPath, "config.toml"))
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/tillsync")
		viper.AddConfigPath("$HOME/.tillsync")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("config file not found, using defaults: %s", viper.ConfigFileUsed())
		} else {
			log.Printf("config read error: %q, using defaults", err)
		}
	}

	if err := viper.Unmarshal(&c.Config); err != nil {
		log.Fatalf("could not unmarshal config file into struct: %v, config file used: %s", err, viper.ConfigFileUsed())
	}
}

func (c *AppConfig) DynamicReload(log logger.Logger) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		c.m.Lock()
		defer c.m.Unlock()

		log.Info().Msgf("config file changed: %s, reloading configuration", e.Name)

		if err := viper.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("error reading config file during dynamic reload")
			return
		}

		var newConfig domain.Config
		// version and configPath are not file-backed
		newConfig.Version = c.Config.Version
		newConfig.ConfigPath = c.Config.ConfigPath

		if err := viper.Unmarshal(&newConfig); err != nil {
			log.Error().Err(err).Msg("error unmarshalling config during dynamic reload")
			return
		}

		c.Config = &newConfig

		log.SetLogLevel(c.Config.Logging.Level)

		log.Debug().Msg("configuration reloaded")
	})
	viper.WatchConfig()
}
