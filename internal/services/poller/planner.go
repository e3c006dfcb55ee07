package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig holds the re-check delays per status group. Zero fields are
// filled from DefaultPlannerConfig by NewPlanner.
type PlannerConfig struct {
	// DeliveredDelay keeps delivered packages out of the worker batches
	// practically forever. Not configurable.
	DeliveredDelay time.Duration

	// Moving packages (in_transit, out_for_delivery) get a random delay inside
	// [InTransitMinDelay, InTransitMaxDelay] so a big import does not come due
	// in a single batch.
	InTransitMinDelay time.Duration
	InTransitMaxDelay time.Duration

	// OtherDelay is the fixed delay for every status that is neither delivered
	// nor moving: pending, exception, unknown and anything the carrier
	// invents later.
	OtherDelay time.Duration

	// Backoff is indexed by the consecutive failure count (1-based); counts
	// past the end reuse the last step.
	Backoff []time.Duration
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeliveredDelay:    365 * 24 * time.Hour,
		InTransitMinDelay: 30 * time.Minute,
		InTransitMaxDelay: 120 * time.Minute,
		OtherDelay:        90 * time.Minute,
		Backoff:           []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute},
	}
}

// Planner decides when a package is checked again. It is used by the worker
// and, for manual refreshes, by the API.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	cfg.DeliveredDelay = orDefault(cfg.DeliveredDelay, def.DeliveredDelay)
	cfg.InTransitMinDelay = orDefault(cfg.InTransitMinDelay, def.InTransitMinDelay)
	cfg.InTransitMaxDelay = orDefault(cfg.InTransitMaxDelay, def.InTransitMaxDelay)
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	cfg.OtherDelay = orDefault(cfg.OtherDelay, def.OtherDelay)

	// лесенка: пустые шаги берём из дефолта, длину тоже
	ladder := make([]time.Duration, len(def.Backoff))
	for i := range ladder {
		var v time.Duration
		if i < len(cfg.Backoff) {
			v = cfg.Backoff[i]
		}
		ladder[i] = orDefault(v, def.Backoff[i])
	}
	cfg.Backoff = ladder

	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextCheckDelay is the delay after a successful check that left the package
// in the given status.
func (p *Planner) NextCheckDelay(status string) time.Duration {
	switch status {
	case models.StatusDelivered:
		return p.cfg.DeliveredDelay
	case models.StatusInTransit, models.StatusOutForDelivery:
		lo := int(p.cfg.InTransitMinDelay / time.Second)
		hi := int(p.cfg.InTransitMaxDelay / time.Second)
		if hi <= lo {
			return p.cfg.InTransitMinDelay
		}
		return time.Duration(lo+p.r.Intn(hi-lo+1)) * time.Second
	default:
		return p.cfg.OtherDelay
	}
}

// BackoffDelay is the delay after the failCount-th failure in a row.
func (p *Planner) BackoffDelay(failCount int32) time.Duration {
	i := int(failCount) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.cfg.Backoff) {
		i = len(p.cfg.Backoff) - 1
	}
	return p.cfg.Backoff[i]
}
