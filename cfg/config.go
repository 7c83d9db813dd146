package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-sql-driver/mysql"
	"github.com/maxpert/isolevel/common"
	"github.com/rs/zerolog/log"
)

// TransactionConfiguration controls server-wide transaction defaults
type TransactionConfiguration struct {
	DefaultIsolation common.IsolationLevel `toml:"default_isolation"` // Used when a session states no level
	ReadOnly         bool                  `toml:"read_only"`
}

// SQLiteConfiguration for the local SQLite database
type SQLiteConfiguration struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// MySQLConfiguration for an optional upstream MySQL server
type MySQLConfiguration struct {
	DSN string `toml:"dsn"` // Empty disables the MySQL backend
}

// AdminConfiguration for the HTTP admin surface
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// ParserConfiguration controls SQL parsing
type ParserConfiguration struct {
	CacheSize int `toml:"cache_size"` // Parsed isolation statements kept in LRU
}

// Configuration is the main configuration structure
type Configuration struct {
	Transaction TransactionConfiguration `toml:"transaction"`
	SQLite      SQLiteConfiguration      `toml:"sqlite"`
	MySQL       MySQLConfiguration       `toml:"mysql"`
	Admin       AdminConfiguration       `toml:"admin"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Parser      ParserConfiguration      `toml:"parser"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	SQLitePathFlag = flag.String("sqlite", "", "SQLite database path (overrides config)")
	MySQLDSNFlag   = flag.String("mysql-dsn", "", "MySQL DSN (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	IsolationFlag  = flag.String("isolation", "", "Default isolation level (overrides config)")
)

// Default configuration
var Config = NewDefaultConfiguration()

// NewDefaultConfiguration returns a configuration with every default filled in
func NewDefaultConfiguration() *Configuration {
	return &Configuration{
		Transaction: TransactionConfiguration{
			DefaultIsolation: common.IsolationRepeatableRead, // MySQL default
			ReadOnly:         false,
		},

		SQLite: SQLiteConfiguration{
			Path:          "file::memory:?cache=shared",
			BusyTimeoutMS: 5000,
		},

		Admin: AdminConfiguration{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8088,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Parser: ParserConfiguration{
			CacheSize: 1024,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *SQLitePathFlag != "" {
		Config.SQLite.Path = *SQLitePathFlag
	}
	if *MySQLDSNFlag != "" {
		Config.MySQL.DSN = *MySQLDSNFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *IsolationFlag != "" {
		level, err := common.ParseIsolationLevel(*IsolationFlag)
		if err != nil {
			return fmt.Errorf("invalid -isolation flag: %w", err)
		}
		Config.Transaction.DefaultIsolation = level
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	if !Config.Transaction.DefaultIsolation.IsValid() {
		return fmt.Errorf("invalid default isolation: %s", Config.Transaction.DefaultIsolation)
	}

	if Config.Transaction.DefaultIsolation == common.IsolationUnspecified {
		log.Warn().Msg("Default isolation is UNSPECIFIED, sessions fall back to REPEATABLE READ")
	}

	if Config.SQLite.Path == "" {
		return fmt.Errorf("sqlite path must not be empty")
	}

	if Config.SQLite.BusyTimeoutMS < 0 {
		return fmt.Errorf("sqlite busy timeout must be >= 0")
	}

	if Config.MySQL.DSN != "" {
		if _, err := mysql.ParseDSN(Config.MySQL.DSN); err != nil {
			return fmt.Errorf("invalid mysql dsn: %w", err)
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Parser.CacheSize < 1 {
		return fmt.Errorf("parser cache size must be >= 1")
	}

	return nil
}

// IsAdminAuthEnabled returns true if an admin secret is configured
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
