package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the server and
// client commands.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the server will listen.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Directory holding the files served to clients. Relative paths are resolved
	// against the config directory.
	StorageDir string `mapstructure:"storage_dir"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Transfer struct {
		// Upper bound on the rate at which a single download is streamed. 0 disables the limit.
		MaxBytesPerSecond int64 `mapstructure:"max_bytes_per_second"`
	} `mapstructure:"transfer"`

	Database struct {
		// Either "sqlite", "postgres", or blank to disable the transfer history.
		Engine string `mapstructure:"engine"`
		// SQLite database file.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on Host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to Name.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Metrics struct {
		// Expose Prometheus metrics over HTTP.
		Enabled bool `mapstructure:"enabled"`
		// Port for the /metrics endpoint.
		HTTPPort int `mapstructure:"http_port"`
	} `mapstructure:"metrics"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log packets to stdout.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`

	Client struct {
		// Address of the server the client connects to.
		ServerAddress string `mapstructure:"server_address"`
		// Directory into which downloads are written and from which uploads are read.
		DownloadDir string `mapstructure:"download_dir"`
	} `mapstructure:"client"`

	configDir string
}

const envVarPrefix = "TFTP"

var defaults = map[string]interface{}{
	"hostname":                           "0.0.0.0",
	"port":                               7777,
	"max_connections":                    100,
	"storage_dir":                        "Files",
	"logging.log_file_path":              "",
	"logging.log_level":                  "info",
	"transfer.max_bytes_per_second":      0,
	"database.engine":                    "",
	"database.filename":                  "tftp.db",
	"database.host":                      "localhost",
	"database.port":                      5432,
	"database.name":                      "tftp",
	"database.username":                  "",
	"database.password":                  "",
	"database.sslmode":                   "disable",
	"metrics.enabled":                    false,
	"metrics.http_port":                  9100,
	"debugging.enabled":                  false,
	"debugging.pprof_port":               4000,
	"debugging.packet_logging_enabled":   false,
	"debugging.database_logging_enabled": false,
	"client.server_address":              "localhost:7777",
	"client.download_dir":                ".",
}

// LoadConfig reads config.yaml from configPath (if present) on top of the
// defaults and applies any TFTP_* environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: TFTP_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVar, err)
		}
	}

	config := &Config{configDir: configPath}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

// QualifiedPath returns path resolved against the directory containing the
// config file, unless path is already absolute.
func (c *Config) QualifiedPath(path string) string {
	if filepath.IsAbs(path) || c.configDir == "" {
		return path
	}
	return filepath.Join(c.configDir, path)
}

// ListenAddress returns the host:port the server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres connection string generated from the config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// DatabaseSource returns the data source for the configured engine.
func (c *Config) DatabaseSource() string {
	if strings.EqualFold(c.Database.Engine, "sqlite") {
		return c.QualifiedPath(c.Database.Filename)
	}
	return c.DatabaseURL()
}
