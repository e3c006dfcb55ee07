package geocoding

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks until the caller may issue the next geocoding request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// sharedLimiter is the one geocoding throttle of the process: at most one
// search per second across foreground and background callers. It is created
// at package init and lives as long as the process.
var sharedLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

func SharedLimiter() Limiter {
	return sharedLimiter
}
