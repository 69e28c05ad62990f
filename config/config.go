// Package config provides configuration management for the dashboard
// exporter.
//
// This package handles loading configuration from multiple sources with
// proper precedence:
//   - YAML configuration files
//   - .env files
//   - Environment variables
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (set via SetDefaults)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.sw360-dashboard/config.yaml, /etc/sw360-dashboard/config.yaml)
//  3. .env files
//  4. Environment variables
//
// # Environment Variables
//
// Prefixed variables follow the key layout with underscores, for example
// SW360_DASHBOARD_COUCHDB_URL or SW360_DASHBOARD_PUSHGATEWAY_URL. The
// legacy unprefixed names the exporter has always honored keep working:
//
//   - COUCHDB_HOST, COUCHDB_DATABASE, COUCHDB_USER
//   - COUCHDB_PASSWORD, COUCHDB_PASSWORD_FILE
//   - PUSHGATEWAY_URL
//   - AWS_DEFAULT_REGION
//   - DRY_RUN
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServiceConfig contains service metadata.
type ServiceConfig struct {
	// Name is the service name
	Name string `mapstructure:"name"`

	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`
}

// CouchDBConfig contains document store connection settings.
type CouchDBConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url"`

	// Database is the portal database holding components, releases and projects
	Database string `mapstructure:"database"`

	// AttachmentDatabase is the database holding attachment documents
	AttachmentDatabase string `mapstructure:"attachment_database"`

	// Username for database authentication
	Username string `mapstructure:"username"`

	// Password for database authentication
	Password string `mapstructure:"password"`

	// PasswordFile is read when Password is empty (secret mounts)
	PasswordFile string `mapstructure:"password_file"`

	// Timeout in seconds for database operations
	Timeout int `mapstructure:"timeout"`
}

// PushgatewayConfig contains metric delivery settings.
type PushgatewayConfig struct {
	// URL is the Pushgateway address (e.g., http://localhost:9091)
	URL string `mapstructure:"url"`

	// CouchDBJob is the job label for document store metrics
	CouchDBJob string `mapstructure:"couchdb_job"`

	// CloudWatchJob is the job label for infrastructure metrics
	CloudWatchJob string `mapstructure:"cloudwatch_job"`
}

// AWSConfig contains AWS client settings. Credentials come from the
// standard SDK chain, not from here.
type AWSConfig struct {
	// Region overrides AWS_DEFAULT_REGION when set
	Region string `mapstructure:"region"`

	// Timeout in seconds for AWS API operations
	Timeout int `mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// Config is the full exporter configuration.
type Config struct {
	// Service contains service metadata
	Service ServiceConfig `mapstructure:"service"`

	// CouchDB contains document store settings
	CouchDB CouchDBConfig `mapstructure:"couchdb"`

	// Pushgateway contains metric delivery settings
	Pushgateway PushgatewayConfig `mapstructure:"pushgateway"`

	// AWS contains AWS client settings
	AWS AWSConfig `mapstructure:"aws"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`

	// DryRun reports what view provisioning would change without writing
	DryRun bool `mapstructure:"dry_run"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment
// prefix (e.g., "SW360_DASHBOARD" -> "SW360_DASHBOARD_COUCHDB_URL").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets default configuration values.
// This should be called before Load().
func (l *Loader) SetDefaults(defaults map[string]interface{}) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SetConfigDefaults sets the standard exporter defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("service.name", "sw360-dashboard")
	l.v.SetDefault("service.environment", "development")

	l.v.SetDefault("couchdb.url", "http://localhost:5984")
	l.v.SetDefault("couchdb.database", "sw360db")
	l.v.SetDefault("couchdb.attachment_database", "sw360attachments")
	l.v.SetDefault("couchdb.username", "")
	l.v.SetDefault("couchdb.password", "")
	l.v.SetDefault("couchdb.password_file", "")
	l.v.SetDefault("couchdb.timeout", 330)

	l.v.SetDefault("pushgateway.url", "http://localhost:9091")
	l.v.SetDefault("pushgateway.couchdb_job", "couchdb_exporter")
	l.v.SetDefault("pushgateway.cloudwatch_job", "aws_cloudwatch_exporter")

	l.v.SetDefault("aws.region", "")
	l.v.SetDefault("aws.timeout", 120)

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")

	l.v.SetDefault("dry_run", true)
}

// legacyEnvBindings maps configuration keys to the unprefixed environment
// variables older deployments set.
var legacyEnvBindings = map[string]string{
	"couchdb.url":           "COUCHDB_HOST",
	"couchdb.database":      "COUCHDB_DATABASE",
	"couchdb.username":      "COUCHDB_USER",
	"couchdb.password":      "COUCHDB_PASSWORD",
	"couchdb.password_file": "COUCHDB_PASSWORD_FILE",
	"pushgateway.url":       "PUSHGATEWAY_URL",
	"aws.region":            "AWS_DEFAULT_REGION",
	"dry_run":               "DRY_RUN",
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (prefixed, then legacy unprefixed)
//  2. .env file
//  3. Configuration file
//  4. Default values
func (l *Loader) Load(cfgFile string, target interface{}) error {
	// .env entries become process environment before viper binds it.
	_ = godotenv.Load()

	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("$HOME/.sw360-dashboard")
		l.v.AddConfigPath("/etc/sw360-dashboard")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	for key, envName := range legacyEnvBindings {
		if value, ok := os.LookupEnv(envName); ok && value != "" {
			l.v.Set(key, value)
		}
	}

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig is a convenience function that loads configuration with
// standard defaults under the SW360_DASHBOARD environment prefix.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("SW360_DASHBOARD")
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.CouchDB.URL == "" {
		return fmt.Errorf("couchdb url is required")
	}
	if cfg.CouchDB.Database == "" {
		return fmt.Errorf("couchdb database is required")
	}
	if cfg.Pushgateway.URL == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	return nil
}

// ResolvePassword returns the CouchDB password, reading PasswordFile when
// the inline value is empty. Both sources missing is an error only when a
// username is configured.
func (c *CouchDBConfig) ResolvePassword() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if c.PasswordFile != "" {
		data, err := os.ReadFile(c.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("unable to read password file %s: %w", c.PasswordFile, err)
		}
		password := strings.TrimSpace(string(data))
		if password == "" {
			return "", fmt.Errorf("password file %s is empty", c.PasswordFile)
		}
		return password, nil
	}
	if c.Username != "" {
		return "", fmt.Errorf("username is set but neither password nor password file is configured")
	}
	return "", nil
}

// BuildURL constructs the full connection URL with authentication
// embedded, the form the CouchDB driver expects.
func (c *CouchDBConfig) BuildURL() (string, error) {
	password, err := c.ResolvePassword()
	if err != nil {
		return "", err
	}
	if c.Username != "" && password != "" {
		return strings.Replace(c.URL, "://", "://"+c.Username+":"+password+"@", 1), nil
	}
	return c.URL, nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
