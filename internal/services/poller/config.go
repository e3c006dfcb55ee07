package poller

import (
	"time"

	"github.com/BearBump/TrackIt/config"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// PlannerConfigFrom maps the worker_* scheduling keys of the trackit config to
// a PlannerConfig. Every key is optional: a zero or negative value leaves the
// field to the planner default, so one backoff step can be tuned without
// restating the rest. worker_next_check_other_seconds feeds OtherDelay, which
// covers pending, exception and unknown packages. The delivered delay has no
// key.
func PlannerConfigFrom(c config.TrackItConfig) PlannerConfig {
	return PlannerConfig{
		InTransitMinDelay: seconds(c.WorkerNextCheckInTransitMinSeconds),
		InTransitMaxDelay: seconds(c.WorkerNextCheckInTransitMaxSeconds),
		OtherDelay:        seconds(c.WorkerNextCheckOtherSeconds),
		Backoff: []time.Duration{
			seconds(c.WorkerBackoff1Seconds),
			seconds(c.WorkerBackoff2Seconds),
			seconds(c.WorkerBackoff3Seconds),
			seconds(c.WorkerBackoff4Seconds),
		},
	}
}
