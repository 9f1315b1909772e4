package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the file Load reads from the config directory.
const ConfigFileName = "config.toml"

const configTemplate = `# simtrader configuration
# Every key can be overridden with SIMTRADER_<SECTION>_<KEY>, e.g. SIMTRADER_BACKEND_BASE_URL.

[backend]
# REST API root of the trading simulator
base_url = "http://localhost:5000/api"
# Per-request timeout
timeout = "15s"
# Stop sending requests after this many consecutive failures (0 disables)
breaker_threshold = 5
# How long to wait before probing the backend again
breaker_cooldown = "10s"

[push]
# Websocket endpoint for live price updates
url = "ws://localhost:5000/ws"
# Reconnect with exponential backoff when the connection drops
reconnect = true
max_retries = 5
base_delay = "1s"

[search]
# Quiet period after the last keystroke before a search is sent
debounce = "300ms"

[trading]
# Shares field value after a confirmed trade
default_shares = "1"

[history]
# Number of transactions fetched for the history view
limit = 50

[insights]
# Horizon for AI price predictions (1-30)
prediction_days = 5

[ui]
# Enable colored output
color_enabled = true
# Ring the terminal bell on error notifications
bell = false

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
# file_path defaults to ~/.config/simtrader/logs/simtrader.log
max_size = 50
max_backups = 5
max_age = 14
`

// createTemplateConfig writes a commented config.toml unless one already exists.
func createTemplateConfig(configDir string) error {
	path := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, ConfigFileName)
}
