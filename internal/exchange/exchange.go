package exchange

import (
	"errors"
	"grid-scalper-bot-go/internal/models"
)

var (
	// ErrInsufficientBalance 买入所需资金（含手续费）超过可用USD
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientHoldings 卖出数量超过实际持有的基础资产
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrNoPositions 没有可平的持仓
	ErrNoPositions = errors.New("no open positions")
	// ErrInvalidOrder 价格或金额非法
	ErrInvalidOrder = errors.New("invalid order")
)

// BuyOrder 描述一次阶梯买入
type BuyOrder struct {
	Price    float64 // 信号价格，成交价会再加上滑点
	Notional float64 // 花费的USD（不含手续费）
	Level    int
	CycleID  string
	Reason   string
}

// SellOrder 描述一次全部平仓
type SellOrder struct {
	Price        float64
	CycleID      string
	Reason       string
	VaultPercent float64 // 净盈利中转入金库的比例
}

// SellResult 是一次全部平仓的结果
type SellResult struct {
	Trade         models.Trade
	Closed        []models.Position
	NetPnL        float64
	VaultTransfer float64
}

// Exchange 定义了Bot执行信号所需的账本操作。
// 实现不需要并发安全，调用方（Bot）负责串行化。
type Exchange interface {
	Buy(order BuyOrder, cfg models.StrategyConfig) (models.Trade, error)
	SellAll(order SellOrder, cfg models.StrategyConfig) (SellResult, error)
	Positions() []models.Position
	Trades() []models.Trade
	Holdings() float64
	Allocated() float64
	Equity() float64
	Balance() models.Balance
	RealizedPnL() float64
	TotalFees() float64
	SyncHoldings(actual float64)
	DiscardPositions() []models.Position
	State() models.LedgerState
}
