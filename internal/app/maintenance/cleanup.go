package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/tenantauth/pkg/logger"
)

const (
	JobSessionCleanup = "session_cleanup"
	JobAuditRetention = "audit_retention"
	JobCachePurge     = "cache_purge"

	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultCacheSpec          = "@hourly"
)

// SessionCleaner removes expired and revoked login sessions.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// AuditPruner removes audit entries older than a retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger removes expired cache rows.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// JobStatus reports the outcome of the most recent runs of a job.
type JobStatus struct {
	Name                string
	Schedule            string
	Runs                int64
	LastRunAt           time.Time
	LastRemoved         int64
	LastError           string
	ConsecutiveFailures int
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired sessions,
// pruning stale audit logs and expired cache rows.
type Cleaner struct {
	sessions  SessionCleaner
	audit     AuditPruner
	cache     CachePurger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	sessionSchedule string
	auditSchedule   string
	cacheSchedule   string

	jobs     []job
	mu       sync.Mutex
	statuses map[string]*JobStatus
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to stamp job runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the matching job;
// cache is nil when Redis handles expiry itself.
func NewCleaner(sessions SessionCleaner, audit AuditPruner, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		audit:           audit,
		cache:           cache,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		auditSchedule:   defaultAuditSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
		statuses:        make(map[string]*JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	if cleaner.sessions != nil {
		cleaner.jobs = append(cleaner.jobs, job{name: JobSessionCleanup, schedule: cleaner.sessionSchedule, run: cleaner.sessions.CleanupExpired})
	}
	if cleaner.audit != nil {
		retention := cleaner.retention
		cleaner.jobs = append(cleaner.jobs, job{name: JobAuditRetention, schedule: cleaner.auditSchedule, run: func(ctx context.Context) (int64, error) {
			return cleaner.audit.CleanupOlderThan(ctx, retention)
		}})
	}
	if cleaner.cache != nil {
		cleaner.jobs = append(cleaner.jobs, job{name: JobCachePurge, schedule: cleaner.cacheSchedule, run: cleaner.cache.PurgeExpired})
	}
	for _, j := range cleaner.jobs {
		cleaner.statuses[j.name] = &JobStatus{Name: j.name, Schedule: j.schedule}
	}

	return cleaner
}

// Start registers the cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if len(c.jobs) == 0 {
		return nil
	}

	for _, j := range c.jobs {
		j := j
		if _, err := c.cron.AddFunc(j.schedule, func() {
			if err := c.runJob(context.Background(), j); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs {
		errs = multierr.Append(errs, c.runJob(ctx, j))
	}
	return errs
}

// Statuses returns a snapshot of every job's last outcome, ordered by name.
func (c *Cleaner) Statuses() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.statuses))
	for _, status := range c.statuses {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Cleaner) runJob(ctx context.Context, j job) error {
	removed, err := j.run(ctx)

	c.mu.Lock()
	status := c.statuses[j.name]
	status.Runs++
	status.LastRunAt = c.now()
	status.LastRemoved = removed
	if err != nil {
		status.LastError = err.Error()
		status.ConsecutiveFailures++
	} else {
		status.LastError = ""
		status.ConsecutiveFailures = 0
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if removed > 0 {
		c.log.Info("maintenance job completed", zap.String("job", j.name), zap.Int64("removed", removed))
	}
	return nil
}
