package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Engine Configuration

[feeds]
# Domestic (exchange) tick feed. The symbol token is sent on connect.
domestic_url = "wss://feed.example.com/domestic"
# International (FX) tick feed. The server pushes every symbol.
international_url = "wss://feed.example.com/international"
handshake_timeout = "15s"

[currency]
# Exchange-rate source returning {"rates": {"INR": <number>}}
rate_url = "https://open.er-api.com/v6/latest/USD"
currency = "INR"
refresh_interval = "5m"
# Used until the first refresh succeeds
default_rate = 83.0
timeout = "10s"

[backend]
# Balance, pre-trade check and order persistence services
base_url = "http://localhost:8080"
user_id = ""
timeout = "10s"
failure_threshold = 5
reset_timeout = "30s"

[exposure]
# Exposure parameter store: "static" (this file) or "redis"
source = "static"
key_prefix = "exposure:"

[exposure.classes.mcx]
mode = "per_lot"

[exposure.classes.mcx.per_lot.GOLD]
intraday = 50000
holding = 150000

[exposure.classes.nse]
mode = "flat_ratio"
intraday_ratio = 10
holding_ratio = 2

[exposure.classes.cds_opt]
mode = "flat_ratio"
intraday_ratio = 20
holding_ratio = 5

[redis]
addr = "localhost:6379"
password = ""
db = 0

[store]
enabled = true

[candles]
# Closed candles kept in memory per symbol
history_size = 500

[logging]
level = "info"
console = true
file = true
`

// createTemplateConfig writes the configuration template if it does not exist.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

// TemplatePath returns the path of the configuration file in configDir.
func TemplatePath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}
