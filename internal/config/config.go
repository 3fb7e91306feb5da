package config

import (
	"encoding/json"
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"os"
	"strings"
)

// 环境变量覆盖项
const (
	EnvDBPath    = "BOT_DB_PATH"
	EnvHTTPAddr  = "BOT_HTTP_ADDR"
	EnvLogLevel  = "BOT_LOG_LEVEL"
	EnvSymbol    = "BOT_SYMBOL"
	EnvAPIKey    = "BINANCE_API_KEY"
	EnvSecretKey = "BINANCE_SECRET_KEY"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	return config, nil
}

// Load 加载配置文件，应用环境变量覆盖和默认值，并完成校验
func Load(path string) (*models.Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := Finalize(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize 应用环境变量、默认值和网络地址，然后校验
func Finalize(cfg *models.Config, lookup func(string) (string, bool)) error {
	ApplyEnv(cfg, lookup)
	cfg.ApplyDefaults()
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))

	// 根据配置设置API URL
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
	}
	return cfg.Validate()
}

// ApplyEnv 用环境变量覆盖配置文件中的值，空值不覆盖
func ApplyEnv(cfg *models.Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvDBPath, &cfg.DBPath)
	set(EnvHTTPAddr, &cfg.HTTPAddr)
	set(EnvLogLevel, &cfg.LogConfig.Level)
	set(EnvSymbol, &cfg.Symbol)
	set(EnvAPIKey, &cfg.APIKey)
	set(EnvSecretKey, &cfg.SecretKey)
}
