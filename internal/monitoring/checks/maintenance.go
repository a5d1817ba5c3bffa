package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/tenantauth/internal/app/maintenance"
	"github.com/charlesng35/tenantauth/internal/monitoring"
)

// JobReporter exposes the last outcome of each maintenance job.
type JobReporter interface {
	Statuses() []maintenance.JobStatus
}

// Maintenance degrades when a background job keeps failing. Jobs that have
// not run yet are reported but never fail the probe.
func Maintenance(jobs JobReporter) monitoring.Check {
	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if jobs == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance jobs registered"}
		}

		status := monitoring.StatusUp
		var notes []string
		for _, job := range jobs.Statuses() {
			switch {
			case job.Runs == 0:
				notes = append(notes, job.Name+": pending first run")
			case job.ConsecutiveFailures > 0:
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				notes = append(notes, job.Name+": "+job.LastError)
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(notes, "; "),
			Duration: time.Since(start),
		}
	})
}
