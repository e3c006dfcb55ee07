package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	trackitapi "github.com/BearBump/TrackIt/internal/api/trackit_api"
	"github.com/BearBump/TrackIt/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type updateApplier interface {
	ApplyUpdate(ctx context.Context, msg messages.TrackingUpdated) error
}

// runTrackAPI serves HTTP and, when a consumer is given, applies worker
// updates until ctx is done.
func runTrackAPI(ctx context.Context, opts trackAPIOpts, api *trackitapi.API, applier updateApplier, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(api, opts.swaggerPath))
	}()

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer starting", "topic", opts.topic, "group", opts.consumerGroup)
			if err := consumer.Consume(ctx, trackingUpdatedHandler(ctx, applier)); err != nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// trackingUpdatedHandler applies one worker message. Malformed payloads are
// logged and skipped so they do not block the partition.
func trackingUpdatedHandler(ctx context.Context, applier updateApplier) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.TrackingUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Error("skip malformed tracking update", "error", err.Error())
			return nil
		}
		if m.PackageID == "" {
			slog.Error("skip tracking update without package id")
			return nil
		}
		return applier.ApplyUpdate(ctx, m)
	}
}

func newRouter(api *trackitapi.API, swaggerPath string) http.Handler {
	r := chi.NewRouter()
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	r.Handle("/metrics", promhttp.Handler())

	api.Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
