package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/config"
	"github.com/BearBump/TrackIt/internal/broker/kafka"
	"github.com/BearBump/TrackIt/internal/broker/messages"
	"github.com/BearBump/TrackIt/internal/cache/rediscache"
	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackIt/internal/integrations/carrier/ship24"
	"github.com/BearBump/TrackIt/internal/services/poller"
	"github.com/BearBump/TrackIt/internal/storage/pgtrackit"
	"github.com/pkg/errors"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) poller.Producer
	newRateLimiter   func(cfg *config.Config) poller.RateLimiter
	newCarrierClient func(cfg *config.Config) carrier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			conn := cfg.Database.ConnString()
			if conn == "" {
				return nil, nil, errors.New("worker requires a database")
			}
			st, err := pgtrackit.New(conn)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			addr := cfg.Redis.Addr()
			if addr == "" {
				return nil
			}
			return rediscache.NewRateLimiter(addr)
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			if strings.ToLower(cfg.TrackIt.CarrierMode) == "fake" || cfg.Secrets.Ship24APIKey == "" {
				slog.Warn("using fake tracking provider")
				return fake.New()
			}
			return ship24.New(cfg.TrackIt.Ship24BaseURL, cfg.Secrets.Ship24APIKey)
		},
	}
}

type workerRunOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunTrackWorker polls due packages until ctx is done. The HTTP control
// surface starts only when a swagger path is given.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = messages.TopicTrackingUpdated
	}

	pollInterval := time.Duration(cfg.TrackIt.WorkerPollIntervalSeconds) * time.Second
	lease := time.Duration(cfg.TrackIt.WorkerLeaseSeconds) * time.Second

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	carrierClient := f.newCarrierClient(cfg)

	p := poller.New(repo, carrierClient, producer, rl, topic).
		WithSettings(pollInterval, cfg.TrackIt.WorkerBatchSize, cfg.TrackIt.WorkerConcurrency, lease, int64(cfg.TrackIt.WorkerRateLimitPerMinute)).
		WithPlanner(poller.NewPlanner(poller.PlannerConfigFrom(cfg.TrackIt), nil))

	if opts.swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    opts.httpAddr,
				swaggerPath: opts.swaggerPath,
				onListen:    opts.onListen,
				poller:      p,
				cfg:         cfg,
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	slog.Info("worker started", "topic", topic)
	return p.Run(ctx)
}
