package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sethvargo/go-envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	TrackIt  TrackItConfig  `yaml:"trackit"`

	// Секреты не храним в yaml, только в окружении.
	Secrets SecretsConfig `yaml:"-"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString returns a pgx connection string, or "" when no host is configured.
func (d DatabaseConfig) ConnString() string {
	if d.Host == "" {
		return ""
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type TrackItConfig struct {
	HTTPAddr           string   `yaml:"http_addr"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`
	TokenTTLHours      int      `yaml:"token_ttl_hours"`
	AdminEmails        []string `yaml:"admin_emails"`

	CourierCacheTTLSeconds int `yaml:"courier_cache_ttl_seconds"`
	BackgroundTaskSeconds  int `yaml:"background_task_timeout_seconds"`

	// "ship24" (default when an API key is set) | "fake"
	CarrierMode        string `yaml:"carrier_mode"`
	Ship24BaseURL      string `yaml:"ship24_base_url"`
	NominatimBaseURL   string `yaml:"nominatim_base_url"`
	NominatimUserAgent string `yaml:"nominatim_user_agent"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`

	// Worker scheduling (optional). If not set, planner defaults apply:
	// in transit 30..120 minutes, other 90 minutes, backoff 5/15/30/60 minutes.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckOtherSeconds        int `yaml:"worker_next_check_other_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`
}

type SecretsConfig struct {
	Ship24APIKey   string `env:"SHIP24_API_KEY"`
	JWTSecret      string `env:"JWT_SECRET, default=dev-secret-change-me"`
	GoogleClientID string `env:"GOOGLE_CLIENT_ID"`
}

func LoadConfig(filename string) (*Config, error) {
	return LoadConfigWithLookuper(context.Background(), filename, envconfig.OsLookuper())
}

// LoadConfigWithLookuper reads the yaml file and overlays secrets from l.
func LoadConfigWithLookuper(ctx context.Context, filename string, l envconfig.Lookuper) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config.Secrets,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	return &config, nil
}
