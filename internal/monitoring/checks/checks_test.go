package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/app/maintenance"
	"github.com/charlesng35/tenantauth/internal/cache"
	"github.com/charlesng35/tenantauth/internal/database/testutil"
	"github.com/charlesng35/tenantauth/internal/monitoring"
)

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = Database(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestCacheCheckAgainstRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := cache.NewRedisClient(cache.RedisConfig{Address: srv.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	check := Cache(client, "redis")
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "redis", result.Details)

	srv.SetError("LOADING dataset in memory")
	result = check.Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "redis: ")
	require.Contains(t, result.Details, "LOADING")
}

func TestCacheCheckWithoutStore(t *testing.T) {
	result := Cache(nil, "database").Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}

type staticJobs []maintenance.JobStatus

func (s staticJobs) Statuses() []maintenance.JobStatus { return s }

func TestMaintenanceCheck(t *testing.T) {
	healthy := staticJobs{
		{Name: maintenance.JobSessionCleanup, Runs: 3},
		{Name: maintenance.JobCachePurge},
	}
	result := Maintenance(healthy).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Contains(t, result.Details, "pending first run")

	failing := staticJobs{
		{Name: maintenance.JobAuditRetention, Runs: 2, ConsecutiveFailures: 2, LastError: "disk full"},
	}
	result = Maintenance(failing).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Equal(t, "audit_retention: disk full", result.Details)

	cleaner := maintenance.NewCleaner(nil, nil, &erroringPurger{})
	require.Error(t, cleaner.RunOnce(context.Background()))
	result = Maintenance(cleaner).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}

type erroringPurger struct{}

func (erroringPurger) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("purge failed")
}
