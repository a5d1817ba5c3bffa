package checks

import (
	"context"
	"time"

	"github.com/charlesng35/tenantauth/internal/monitoring"
)

// Pinger is satisfied by every cache backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a probe for the shared cache. backend names the store in
// the probe details ("redis" or "database").
func Cache(store Pinger, backend string) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache unavailable",
				Duration: time.Since(start),
			}
		}

		result := monitoring.ResultFromError(store.Ping(ctx), time.Since(start))
		if result.Details == "" {
			result.Details = backend
		} else {
			result.Details = backend + ": " + result.Details
		}
		return result
	})
}
