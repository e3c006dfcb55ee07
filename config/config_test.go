package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tracking_updated_topic_name: "tracking.updated"
redis:
  host: "localhost"
  port: 6379
trackit:
  http_addr: ":8080"
  kafka_consumer_group: "track-api"
  admin_emails: ["root@example.com"]
  carrier_mode: "fake"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, sampleYAML)

	cfg, err := LoadConfigWithLookuper(context.Background(), p, envconfig.MapLookuper(map[string]string{
		"SHIP24_API_KEY": "k",
	}))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "tracking.updated", cfg.Kafka.TrackingUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.TrackIt.HTTPAddr)
	require.Equal(t, []string{"root@example.com"}, cfg.TrackIt.AdminEmails)
	require.Equal(t, "k", cfg.Secrets.Ship24APIKey)
	require.Equal(t, "dev-secret-change-me", cfg.Secrets.JWTSecret)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConnStrings(t *testing.T) {
	p := writeConfig(t, sampleYAML)
	cfg, err := LoadConfigWithLookuper(context.Background(), p, envconfig.MapLookuper(nil))
	require.NoError(t, err)

	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())

	require.Empty(t, DatabaseConfig{}.ConnString())
	require.Empty(t, RedisConfig{}.Addr())
	require.Nil(t, KafkaConfig{}.Brokers())
}
