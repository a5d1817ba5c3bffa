package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigureInstallsGlobalLogger(t *testing.T) {
	t.Cleanup(func() { Replace(nil) })

	require.NoError(t, Configure(Options{Level: "debug", Format: "console"}))
	require.True(t, Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Init("not-a-level"))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	previous := Replace(zap.New(core))
	t.Cleanup(func() { Replace(previous) })

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	entries := recorded.All()
	require.Len(t, entries, 4)
	require.Equal(t, "info message", entries[0].Message)
	require.Equal(t, "debug message", entries[3].Message)
	require.Equal(t, "v", entries[0].ContextMap()["k"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	previous := Replace(zap.New(core))
	t.Cleanup(func() { Replace(previous) })

	WithModule("notify").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "notify", entries[0].ContextMap()["module"])
}
