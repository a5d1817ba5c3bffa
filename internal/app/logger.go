package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/tenantauth/pkg/logger"
)

// ConfigureLogging installs the global logger from server.log_level and
// server.log_format. Empty values fall back to info and json.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "":
		format = "json"
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return logger.Configure(logger.Options{Level: level, Format: format})
}
