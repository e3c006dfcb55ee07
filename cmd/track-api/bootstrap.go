package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BearBump/TrackIt/config"
	trackitapi "github.com/BearBump/TrackIt/internal/api/trackit_api"
	"github.com/BearBump/TrackIt/internal/auth"
	"github.com/BearBump/TrackIt/internal/broker/kafka"
	"github.com/BearBump/TrackIt/internal/broker/messages"
	"github.com/BearBump/TrackIt/internal/cache"
	"github.com/BearBump/TrackIt/internal/cache/rediscache"
	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackIt/internal/integrations/carrier/ship24"
	"github.com/BearBump/TrackIt/internal/integrations/geocoder/nominatim"
	"github.com/BearBump/TrackIt/internal/services/couriers"
	"github.com/BearBump/TrackIt/internal/services/deliverylocs"
	"github.com/BearBump/TrackIt/internal/services/geocoding"
	"github.com/BearBump/TrackIt/internal/services/packages"
	"github.com/BearBump/TrackIt/internal/services/poller"
	"github.com/BearBump/TrackIt/internal/services/users"
	"github.com/BearBump/TrackIt/internal/storage/memtrackit"
	"github.com/BearBump/TrackIt/internal/storage/pgtrackit"
	"github.com/BearBump/TrackIt/internal/tasks"
)

// store is everything the services need from persistence. Both the Postgres
// and the in-memory storage satisfy it.
type store interface {
	packages.Repository
	deliverylocs.Repository
	geocoding.Store
	users.Repository
	Ping(ctx context.Context) error
	Close()
}

type trackAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackAPIOpts
	api      *trackitapi.API
	packages *packages.Service
	consumer *kafka.Consumer
	runner   *tasks.Runner
	st       store
	redis    *rediscache.RedisCache
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TrackIt.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.TrackIt.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = messages.TopicTrackingUpdated
	}
	courierTTL := time.Duration(cfg.TrackIt.CourierCacheTTLSeconds) * time.Second
	if courierTTL <= 0 {
		courierTTL = 24 * time.Hour
	}
	taskTimeout := time.Duration(cfg.TrackIt.BackgroundTaskSeconds) * time.Second
	tokenTTL := time.Duration(cfg.TrackIt.TokenTTLHours) * time.Hour

	var st store
	if conn := cfg.Database.ConnString(); conn != "" {
		st = mustOpenPostgresWithRetry(conn, 60*time.Second)
	} else {
		slog.Warn("database is not configured, using in-memory storage")
		st = memtrackit.New()
	}

	var rc *rediscache.RedisCache
	var courierCache cache.BytesCache
	if addr := cfg.Redis.Addr(); addr != "" {
		rc = rediscache.New(addr)
		courierCache = rc
	}

	carrierClient := newCarrierClient(cfg)
	runner := tasks.NewRunner(taskTimeout)
	resolver := geocoding.NewResolver(st, nominatim.New(cfg.TrackIt.NominatimBaseURL, cfg.TrackIt.NominatimUserAgent), runner)
	planner := poller.NewPlanner(poller.PlannerConfigFrom(cfg.TrackIt), nil)

	packagesSvc := packages.New(st, carrierClient, resolver, planner)

	// Один каталог на процесс: заполняется при первом запросе и живёт до выхода.
	catalog := couriers.New(carrierClient, courierCache, courierTTL)

	usersSvc := users.New(
		st,
		auth.NewGoogleVerifier(cfg.Secrets.GoogleClientID),
		auth.NewTokens(cfg.Secrets.JWTSecret, tokenTTL),
		cfg.TrackIt.AdminEmails,
	)

	api := trackitapi.New(packagesSvc, deliverylocs.New(st, resolver), resolver, catalog, usersSvc).
		WithReadiness("database", st)
	if rc != nil {
		api.WithReadiness("redis", rc)
	}

	var consumer *kafka.Consumer
	if brokers := cfg.Kafka.Brokers(); brokers != nil {
		consumer = kafka.NewConsumer(brokers, topic, consumerGroup)
	} else {
		slog.Warn("kafka is not configured, worker updates will not be applied")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		packages: packagesSvc,
		consumer: consumer,
		runner:   runner,
		st:       st,
		redis:    rc,
	}
}

// newCarrierClient picks Ship24 when an API key is present, else the offline fake.
func newCarrierClient(cfg *config.Config) carrier.Client {
	mode := strings.ToLower(cfg.TrackIt.CarrierMode)
	if mode == "fake" || cfg.Secrets.Ship24APIKey == "" {
		slog.Warn("using fake tracking provider")
		return fake.New()
	}
	return ship24.New(cfg.TrackIt.Ship24BaseURL, cfg.Secrets.Ship24APIKey)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtrackit.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtrackit.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.runner != nil {
		a.runner.Wait()
	}
	if a.st != nil {
		a.st.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *trackAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runTrackAPI(a.ctx, a.opts, a.api, a.packages, consumer)
}
