package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Data        DataConfig    `mapstructure:"data"`
	Session     SessionConfig `mapstructure:"session"`
	Pricing     PricingConfig `mapstructure:"pricing"`
	Worker      WorkerConfig  `mapstructure:"worker"`
	Redis       RedisConfig   `mapstructure:"redis"`
	Azure       AzureConfig   `mapstructure:"azure"`
	Elastic     ElasticConfig `mapstructure:"elastic"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address string        `mapstructure:"address"`
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DataConfig holds the object store and command log locations
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
}

// PricingConfig seeds the settings table on first run
type PricingConfig struct {
	CompanyName       string  `mapstructure:"company_name"`
	Currency          string  `mapstructure:"currency"`
	PricePerCase      float64 `mapstructure:"price_per_case"`
	GSTRate           float64 `mapstructure:"gst_rate"`
	QSTRate           float64 `mapstructure:"qst_rate"`
	CansPerCase       int     `mapstructure:"cans_per_case"`
	MinCasesPerFlavor int     `mapstructure:"min_cases_per_flavor"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SessionPurgeInterval time.Duration `mapstructure:"session_purge_interval"`
	RetryBudget          int           `mapstructure:"retry_budget"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// AzureConfig holds Azure Service Bus configuration
type AzureConfig struct {
	QueueConnStr string `mapstructure:"queue_conn_str"`
	QueueName    string `mapstructure:"queue_name"`
}

// ElasticConfig holds Elasticsearch configuration
type ElasticConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
	Index    string `mapstructure:"index"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	LicenseKey     string `mapstructure:"license_key"`
	AppName        string `mapstructure:"app_name"`
	LogEnabled     bool   `mapstructure:"log_enabled"`
	DistribTracing bool   `mapstructure:"distributed_tracing_enabled"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AddConfigPath(path)
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine - ENV vars and defaults carry the day
	}

	v.SetEnvPrefix("SALESDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", "30s")

	v.SetDefault("data.dir", "./data")

	v.SetDefault("session.cookie_name", "sid")
	v.SetDefault("session.ttl", "12h")
	v.SetDefault("session.secure", false)

	v.SetDefault("pricing.company_name", "SayF Sales")
	v.SetDefault("pricing.currency", "CAD")
	v.SetDefault("pricing.price_per_case", 59.76)
	v.SetDefault("pricing.gst_rate", 0.05)
	v.SetDefault("pricing.qst_rate", 0.09975)
	v.SetDefault("pricing.cans_per_case", 24)
	v.SetDefault("pricing.min_cases_per_flavor", 25)

	v.SetDefault("worker.sweep_interval", "15s")
	v.SetDefault("worker.session_purge_interval", "1h")
	v.SetDefault("worker.retry_budget", 5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("azure.queue_name", "lead-batches")

	v.SetDefault("elastic.url", "")
	v.SetDefault("elastic.prefix", "salesdesk")
	v.SetDefault("elastic.index", "records")

	v.SetDefault("tracing.app_name", "Salesdesk")
	v.SetDefault("tracing.log_enabled", true)
	v.SetDefault("tracing.distributed_tracing_enabled", true)
}

// FormatIndex formats an Elasticsearch index name with the configured prefix
func FormatIndex(cfg ElasticConfig, index string) string {
	return cfg.Prefix + "-" + index
}
