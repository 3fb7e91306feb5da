package config

import (
	"grid-scalper-bot-go/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfigAppliesEnvAndDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"symbol": "btcusdt",
		"is_testnet": true,
		"testnet_api_url": "https://testnet.binance.vision",
		"vault_profit_percent": 10,
		"log": {"level": "warn", "output": "console"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Finalize(cfg, envMap(map[string]string{
		EnvDBPath:   "/tmp/bots",
		EnvLogLevel: "debug",
		EnvAPIKey:   "key",
		EnvHTTPAddr: "  ",
	})))

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "/tmp/bots", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, ":8080", cfg.HTTPAddr, "blank env values do not override")
	assert.Equal(t, "https://testnet.binance.vision", cfg.BaseURL)
	assert.Equal(t, "wss://testnet.binance.vision", cfg.WSBaseURL)
	assert.Equal(t, 1000.0, cfg.InitialBalance)
	assert.Equal(t, models.Micro, cfg.DefaultStrategy)
	assert.Equal(t, 10.0, cfg.VaultProfitPercent)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"symbol":`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"symbol": "BTCUSDT", "vault_profit_percent": 120}`))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.ErrorIs(t, Finalize(cfg, envMap(nil)), models.ErrInvalidConfig, "symbol is required")
	assert.NoError(t, Finalize(cfg, envMap(map[string]string{EnvSymbol: "ethusdt"})))
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "wss://stream.binance.com:9443", cfg.WSBaseURL)
}
