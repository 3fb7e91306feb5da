package models

import (
	"errors"
	"fmt"
	"time"
)

// StateVersion 持久化模型的版本号，用于未来迁移
const StateVersion = 1

// StrategyState 是单个Bot独占的可变策略状态。
// 不变式: CurrentLevel == 0 ⇔ InitialEntryPrice == 0 ⇔ len(LevelPrices) == 0，
// 且 LevelPrices 非递增。
type StrategyState struct {
	RecentHigh        float64   `json:"recent_high"`         // 观察窗口内的最高价, 0 表示未初始化
	InitialEntryPrice float64   `json:"initial_entry_price"` // 0 表示没有进行中的周期
	CurrentLevel      int       `json:"current_level"`
	LevelPrices       []float64 `json:"level_prices"`
	LevelSizes        []float64 `json:"level_sizes"`
	PriceWindow       []float64 `json:"price_window"`       // 计算近期高点的滚动窗口
	CycleID           string    `json:"cycle_id,omitempty"` // 当前周期ID
}

// Observe 将价格放入长度为 lookback 的滚动窗口，并重新计算近期高点
func (s *StrategyState) Observe(price float64, lookback int) {
	if price <= 0 {
		return
	}
	if lookback < 1 {
		lookback = 1
	}
	s.PriceWindow = append(s.PriceWindow, price)
	if len(s.PriceWindow) > lookback {
		s.PriceWindow = append([]float64(nil), s.PriceWindow[len(s.PriceWindow)-lookback:]...)
	}
	high := 0.0
	for _, p := range s.PriceWindow {
		if p > high {
			high = p
		}
	}
	s.RecentHigh = high
}

// LastLevelPrice 返回最后一档的入场价，没有档位时返回 0
func (s *StrategyState) LastLevelPrice() float64 {
	if len(s.LevelPrices) == 0 {
		return 0
	}
	return s.LevelPrices[len(s.LevelPrices)-1]
}

// Clone 深拷贝，避免并发读写和回滚时共享底层数组
func (s *StrategyState) Clone() *StrategyState {
	if s == nil {
		return nil
	}
	c := *s
	c.LevelPrices = append([]float64(nil), s.LevelPrices...)
	c.LevelSizes = append([]float64(nil), s.LevelSizes...)
	c.PriceWindow = append([]float64(nil), s.PriceWindow...)
	return &c
}

// CheckInvariants 返回第一个被破坏的不变式
func (s *StrategyState) CheckInvariants() error {
	open := s.CurrentLevel > 0
	if open != (s.InitialEntryPrice > 0) || open != (len(s.LevelPrices) > 0) {
		return fmt.Errorf("cycle markers disagree: level=%d initial_entry=%g level_prices=%d",
			s.CurrentLevel, s.InitialEntryPrice, len(s.LevelPrices))
	}
	if len(s.LevelPrices) != s.CurrentLevel {
		return fmt.Errorf("level_prices has %d entries for level %d", len(s.LevelPrices), s.CurrentLevel)
	}
	if len(s.LevelSizes) != len(s.LevelPrices) {
		return fmt.Errorf("level_sizes has %d entries, level_prices %d", len(s.LevelSizes), len(s.LevelPrices))
	}
	for i := 1; i < len(s.LevelPrices); i++ {
		if s.LevelPrices[i] > s.LevelPrices[i-1] {
			return errors.New("level_prices must be non-increasing")
		}
	}
	return nil
}

// BotState 定义了每个Bot需要持久化的所有关键数据
type BotState struct {
	Version         int           `json:"version"`
	BotID           string        `json:"bot_id"`
	Name            string        `json:"name"`
	Pair            string        `json:"pair"`
	Strategy        Strategy      `json:"strategy"`
	IsRunning       bool          `json:"is_running"`
	IsPaused        bool          `json:"is_paused"`
	DesyncSuspected bool          `json:"desync_suspected,omitempty"` // 卖出因持有量不足被拒绝，等待一致性检查
	StrategyState   StrategyState `json:"strategy_state"`
	Ledger          LedgerState   `json:"ledger"`
	LastUpdateTime  time.Time     `json:"last_update_time"`
}

// LedgerState 是账本的可序列化形式
type LedgerState struct {
	USD          float64    `json:"usd"`
	BaseHoldings float64    `json:"base_holdings"`
	Vault        float64    `json:"vault"`
	RealizedPnL  float64    `json:"realized_pnl"`
	TotalFees    float64    `json:"total_fees"`
	Positions    []Position `json:"positions"`
	Trades       []Trade    `json:"trades"`
	TradeSeq     uint32     `json:"trade_seq"`
}
