package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/TrackIt/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := workerRunOpts{
		httpAddr:    cfg.TrackIt.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}
	if err := RunTrackWorker(ctx, cfg, defaultWorkerFactories(), opts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
