package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/handlers/testutil"
	"github.com/charlesng35/tenantauth/internal/monitoring"
)

func TestHealthWithoutManager(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/health", "/health/ready"} {
		w := env.RequestWithHeaders(http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, true, body["success"])
		require.Equal(t, "up", body["status"])
	}
}

func TestReadinessReflectsChecks(t *testing.T) {
	manager := monitoring.NewHealthManager(0)
	manager.RegisterReadiness(monitoring.NewCheck("database", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "redis: connection refused"}
	}))
	env := testutil.NewEnv(t, testutil.WithHealth(manager))

	w := env.RequestWithHeaders(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.RequestWithHeaders(http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var report monitoring.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis: connection refused", report.Checks[1].Details)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)
	env.Login(user.Email, testutil.DefaultPassword)

	w := env.RequestWithHeaders(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "tenantauth_auth_attempts_total")
}
