package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Snowflake SnowflakeConfig `yaml:"snowflake"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// PostgresConfig holds the schedule-store connection settings
type PostgresConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration
func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// SnowflakeConfig holds the event-store connection settings. Either a full
// connection string or the discrete account fields must be present.
type SnowflakeConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Account          string `yaml:"account"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Database         string `yaml:"database"`
	Schema           string `yaml:"schema"`
	Warehouse        string `yaml:"warehouse"`
}

// RedisConfig holds the distributed-lock backend settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AnalyticsConfig holds the batch pipeline knobs
type AnalyticsConfig struct {
	// WindowDays is how many days of ingestion the daily pipeline reads.
	WindowDays int `yaml:"window_days"`
	// Timezone is the reference zone for weekday and time-of-day math.
	Timezone string `yaml:"timezone"`
	// StrictSameDayContainment switches the interval calculator to the
	// legacy fast path: same-day intervals count only when fully inside
	// the window, and multi-day intervals count as zero.
	StrictSameDayContainment bool `yaml:"strict_same_day_containment"`
	// Parallelism bounds how many partitions are computed at once.
	Parallelism int `yaml:"parallelism"`

	SchedulerEnabled     bool `yaml:"scheduler_enabled"`
	DailyIntervalMinutes int  `yaml:"daily_interval_minutes"`
	LockTTLMinutes       int  `yaml:"lock_ttl_minutes"`
}

// Location resolves the configured reference zone
func (c AnalyticsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Interval returns the scheduler cadence as a duration
func (c AnalyticsConfig) Interval() time.Duration {
	return time.Duration(c.DailyIntervalMinutes) * time.Minute
}

// LockTTL returns the run-lock lifetime as a duration
func (c AnalyticsConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// StorageConfig holds run-report archive configuration
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKey     string `yaml:"access_key"`  // Optional static credentials; prefer the default chain
	SecretKey     string `yaml:"secret_key"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "" // Running on ECS or Lambda, use IAM role
	}
	return c.AWSProfile
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	// DisableRedaction turns off phone-number masking in log fields.
	DisableRedaction bool `yaml:"disable_redaction"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 10
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetimeMinutes == 0 {
		cfg.Postgres.ConnMaxLifetimeMinutes = 30
	}
	// Snowflake defaults
	if cfg.Snowflake.Database == "" {
		cfg.Snowflake.Database = "CHAT_DATA_LAKE"
	}
	if cfg.Snowflake.Schema == "" {
		cfg.Snowflake.Schema = "MESSAGING"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Analytics.WindowDays == 0 {
		cfg.Analytics.WindowDays = 1
	}
	if cfg.Analytics.Timezone == "" {
		cfg.Analytics.Timezone = "UTC"
	}
	if cfg.Analytics.Parallelism == 0 {
		cfg.Analytics.Parallelism = 4
	}
	if cfg.Analytics.DailyIntervalMinutes == 0 {
		cfg.Analytics.DailyIntervalMinutes = 1440
	}
	if cfg.Analytics.LockTTLMinutes == 0 {
		cfg.Analytics.LockTTLMinutes = 30
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. A
// missing config file is not fatal: defaults plus environment variables
// carry a full configuration on their own.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Postgres.URL = dbURL
	}
	if v := os.Getenv("SNOWFLAKE_CONNECTION_STRING"); v != "" {
		cfg.Snowflake.ConnectionString = v
	}
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Snowflake.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Snowflake.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Snowflake.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_DATABASE"); v != "" {
		cfg.Snowflake.Database = v
	}
	if v := os.Getenv("SNOWFLAKE_SCHEMA"); v != "" {
		cfg.Snowflake.Schema = v
	}
	if v := os.Getenv("SNOWFLAKE_WAREHOUSE"); v != "" {
		cfg.Snowflake.Warehouse = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ANALYTICS_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Analytics.WindowDays = n
		}
	}
	if v := os.Getenv("ANALYTICS_TIMEZONE"); v != "" {
		cfg.Analytics.Timezone = v
	}
	if v := os.Getenv("ANALYTICS_STRICT_SAME_DAY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Analytics.StrictSameDayContainment = b
		}
	}
	if v := os.Getenv("ANALYTICS_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Analytics.Parallelism = n
		}
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("STORAGE_DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("STORAGE_AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

// Validate checks the settings a run cannot start without. It is called
// once at process start so credential problems fail fast instead of
// surfacing mid-batch.
func (cfg *Config) Validate() error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url is required (postgres.url or DATABASE_URL)")
	}
	if cfg.Snowflake.ConnectionString == "" {
		if cfg.Snowflake.Account == "" || cfg.Snowflake.User == "" || cfg.Snowflake.Password == "" {
			return fmt.Errorf("snowflake credentials are required (connection_string, or account/user/password)")
		}
	}
	if cfg.Analytics.WindowDays < 1 {
		return fmt.Errorf("analytics.window_days must be at least 1, got %d", cfg.Analytics.WindowDays)
	}
	if cfg.Analytics.Parallelism < 1 {
		return fmt.Errorf("analytics.parallelism must be at least 1, got %d", cfg.Analytics.Parallelism)
	}
	if _, err := cfg.Analytics.Location(); err != nil {
		return fmt.Errorf("analytics.timezone %q: %w", cfg.Analytics.Timezone, err)
	}
	switch cfg.Storage.Type {
	case "local":
	case "aws":
		if cfg.Storage.S3Bucket == "" || cfg.Storage.DynamoDBTable == "" || cfg.Storage.AWSRegion == "" {
			return fmt.Errorf("aws storage requires s3_bucket, dynamodb_table and aws_region")
		}
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	return nil
}
