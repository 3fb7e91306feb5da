package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig 所有配置校验失败都包装这个错误
var ErrInvalidConfig = errors.New("invalid config")

// Config 结构体定义了程序的所有配置参数
type Config struct {
	IsTestnet          bool         `json:"is_testnet"` // 是否使用测试网
	DBPath             string       `json:"db_path"`    // badger 数据目录
	HTTPAddr           string       `json:"http_addr"`  // 命令接口监听地址
	LiveAPIURL         string       `json:"live_api_url"`
	LiveWSURL          string       `json:"live_ws_url"`
	TestnetAPIURL      string       `json:"testnet_api_url"`
	TestnetWSURL       string       `json:"testnet_ws_url"`
	Symbol             string       `json:"symbol"`               // 交易对，如 "BTCUSDT"
	InitialBalance     float64      `json:"initial_balance"`      // 每个新Bot的初始USD余额
	VaultProfitPercent float64      `json:"vault_profit_percent"` // 每次盈利平仓转入金库的比例
	DefaultStrategy    StrategyType `json:"default_strategy"`     // 没有任何Bot时自动创建的策略类型
	APIKey             string       `json:"-"`
	SecretKey          string       `json:"-"`

	CandleInterval        string `json:"candle_interval"`          // K线周期, e.g. "1m"
	CandlePollIntervalSec int    `json:"candle_poll_interval_sec"` // K线轮询间隔(秒)
	CandleSeedLimit       int    `json:"candle_seed_limit"`        // 启动时预加载的K线数量

	WebSocketPingIntervalSec int `json:"websocket_ping_interval_sec,omitempty"` // WebSocket Ping消息发送间隔(秒)
	WebSocketPongTimeoutSec  int `json:"websocket_pong_timeout_sec,omitempty"`  // WebSocket Pong消息超时时间(秒)
	ReconnectDelaySec        int `json:"reconnect_delay_sec,omitempty"`         // 断线重连等待(秒)

	Persistence         PersistenceConfig `json:"persistence"`
	APIRateLimit        float64           `json:"api_rate_limit"`        // 命令接口每秒请求数
	APIRateBurst        int               `json:"api_rate_burst"`        // 命令接口突发请求数
	StatusReportSeconds int               `json:"status_report_seconds"` // 状态表打印间隔
	LogConfig           LogConfig         `json:"log"`

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// PersistenceConfig 控制异步持久化的重试行为
type PersistenceConfig struct {
	RetryAttempts       int `json:"retry_attempts"`         // 单次写入的最大重试次数
	RetryInitialDelayMs int `json:"retry_initial_delay_ms"` // 首次重试前的延迟
	RetryMaxDelayMs     int `json:"retry_max_delay_ms"`     // 重试延迟上限
	DegradedAfter       int `json:"degraded_after"`         // 连续失败多少次后进入降级告警
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// ApplyDefaults 为未填写的字段设置默认值
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "data/bots"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LiveWSURL == "" {
		c.LiveWSURL = "wss://stream.binance.com:9443"
	}
	if c.TestnetWSURL == "" {
		c.TestnetWSURL = "wss://testnet.binance.vision"
	}
	if c.InitialBalance == 0 {
		c.InitialBalance = 1000
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = Micro
	}
	if c.CandleInterval == "" {
		c.CandleInterval = "1m"
	}
	if c.CandlePollIntervalSec <= 0 {
		c.CandlePollIntervalSec = 15
	}
	if c.CandleSeedLimit <= 0 {
		c.CandleSeedLimit = 50
	}
	if c.WebSocketPingIntervalSec <= 0 {
		c.WebSocketPingIntervalSec = 54
	}
	if c.WebSocketPongTimeoutSec <= 0 {
		c.WebSocketPongTimeoutSec = 60
	}
	if c.ReconnectDelaySec <= 0 {
		c.ReconnectDelaySec = 5
	}
	if c.Persistence.RetryAttempts <= 0 {
		c.Persistence.RetryAttempts = 3
	}
	if c.Persistence.RetryInitialDelayMs <= 0 {
		c.Persistence.RetryInitialDelayMs = 100
	}
	if c.Persistence.RetryMaxDelayMs <= 0 {
		c.Persistence.RetryMaxDelayMs = 5000
	}
	if c.Persistence.DegradedAfter <= 0 {
		c.Persistence.DegradedAfter = 3
	}
	if c.APIRateLimit <= 0 {
		c.APIRateLimit = 20
	}
	if c.APIRateBurst <= 0 {
		c.APIRateBurst = 40
	}
	if c.StatusReportSeconds <= 0 {
		c.StatusReportSeconds = 30
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.LogConfig.Output == "" {
		c.LogConfig.Output = "console"
	}
}

// Validate 检查配置是否可用，返回遇到的第一个问题
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial_balance (%f) must be > 0", ErrInvalidConfig, c.InitialBalance)
	}
	if c.VaultProfitPercent < 0 || c.VaultProfitPercent > 100 {
		return fmt.Errorf("%w: vault_profit_percent (%f) must be within [0,100]", ErrInvalidConfig, c.VaultProfitPercent)
	}
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: unknown default_strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}
	return nil
}

// Candle 是一根已收盘的K线
type Candle struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position 是阶梯中的一档持仓
type Position struct {
	EntryPrice float64   `json:"entry_price"` // 含滑点的成交价
	EntrySize  float64   `json:"entry_size"`  // 基础资产数量
	EntryFee   float64   `json:"entry_fee"`   // 开仓支付的手续费 (USD)
	LevelIndex int       `json:"level_index"` // 从1开始
	OpenedAt   time.Time `json:"opened_at"`
}

// Cost 返回这档持仓占用的资金（不含手续费）
func (p Position) Cost() float64 {
	return p.EntryPrice * p.EntrySize
}

// Trade 记录一笔已执行的买入或卖出，只追加不修改
type Trade struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Type      Side      `json:"type"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Fee       float64   `json:"fee"`
	Level     int       `json:"level,omitempty"`
	PnL       float64   `json:"pnl,omitempty"` // 仅卖出记录净盈亏
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance 是状态快照中的余额部分
type Balance struct {
	USD          float64 `json:"usd"`
	BaseHoldings float64 `json:"base_holdings"`
	Vault        float64 `json:"vault"`
}
