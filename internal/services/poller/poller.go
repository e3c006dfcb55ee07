package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackIt/internal/broker/messages"
	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/metrics"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Poller struct {
	repo     Repository
	carrier  carrier.Client
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	throttlePause time.Duration
	publishTries  int
	publishDelay  time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, c carrier.Client, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		repo: repo, carrier: c, producer: producer, rl: rl, topic: topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       30 * time.Second,
		batchSize:          50,
		concurrency:        4,
		lease:              5 * time.Minute,
		rateLimitPerMinute: 60,
		throttlePause:      500 * time.Millisecond,
		publishTries:       10,
		publishDelay:       150 * time.Millisecond,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(pl *Planner) *Poller {
	if pl != nil {
		p.planner = pl
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"started_at"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
	LastTriggerAt  *time.Time `json:"last_trigger_at,omitempty"`
	TotalClaimed   int64      `json:"total_claimed"`
	TotalProcessed int64      `json:"total_processed"`
	TotalErrors    int64      `json:"total_errors"`
	InFlight       int64      `json:"in_flight"`
	LastError      string     `json:"last_error,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDuePackages(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due packages", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, pkg := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(pkg *models.Package) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, pkg); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("process package", "package_id", pkg.ID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}(pkg)
	}
	wg.Wait()
}

// rateKey groups requests per courier; packages without one share a bucket.
func rateKey(pkg *models.Package, now time.Time) string {
	courier := "any"
	switch {
	case pkg.Courier != nil && *pkg.Courier != "":
		courier = *pkg.Courier
	case pkg.DetectedCourier != nil && *pkg.DetectedCourier != "":
		courier = *pkg.DetectedCourier
	}
	return fmt.Sprintf("rl:carrier:%s:%s", strings.ToLower(courier), now.Format("200601021504"))
}

func (p *Poller) processOne(ctx context.Context, pkg *models.Package) error {
	now := time.Now().UTC()

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		allowed, n, err := p.rl.Allow(ctx, rateKey(pkg, now), p.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
			slog.Warn("rate limit exceeded", "package_id", pkg.ID, "count", n)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.throttlePause):
			}
		}
	}

	var trackerID, courier string
	if pkg.TrackerID != nil {
		trackerID = *pkg.TrackerID
	}
	if pkg.Courier != nil {
		courier = *pkg.Courier
	}

	rec, err := carrier.Fetch(ctx, p.carrier, trackerID, pkg.TrackingNumber, courier)
	msg := messages.TrackingUpdated{
		PackageID: pkg.ID,
		CheckedAt: now,
	}
	if err != nil {
		e := err.Error()
		msg.Error = &e
		msg.NextCheckAt = now.Add(p.planner.BackoffDelay(pkg.CheckFailCount + 1))
	} else {
		msg.Record = rec
		msg.NextCheckAt = now.Add(p.planner.NextCheckDelay(rec.Status))
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может быть не готова сразу после старта docker compose, поэтому
	// публикуем с небольшим retry.
	var pubErr error
	for i := 0; i < p.publishTries; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, []byte(pkg.ID), b); pubErr == nil {
			break
		}
		if i == p.publishTries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * p.publishDelay):
		}
	}
	if pubErr != nil {
		metrics.WorkerPublishedTotal.WithLabelValues("error").Inc()
		return pubErr
	}
	result := "ok"
	if msg.Failed() {
		result = "provider_error"
	}
	metrics.WorkerPublishedTotal.WithLabelValues(result).Inc()
	return nil
}
