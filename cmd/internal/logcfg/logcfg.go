package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

const (
	envToolConfigPath = "RBCLEAN_LOG_CONFIG"
	envConfigPath     = "SMPLOG_CONFIG"
)

// Load returns file-backed logging configuration when available, otherwise defaults.
func Load() logs.Config {
	for _, path := range candidates() {
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}
	return logs.DefaultConfig()
}

// candidates lists config paths in lookup order.
func candidates() []string {
	var paths []string
	for _, name := range []string{envToolConfigPath, envConfigPath} {
		if path := os.Getenv(name); path != "" {
			paths = append(paths, path)
		}
	}
	return append(paths,
		"./smplog.config.toml",
		"./local/smplog.config.toml",
	)
}
