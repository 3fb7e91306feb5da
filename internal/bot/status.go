package bot

import (
	"grid-scalper-bot-go/internal/models"
	"time"
)

// StatusSnapshot is the bot-level view returned by the command surface.
type StatusSnapshot struct {
	BotID             string                `json:"bot_id"`
	BotName           string                `json:"bot_name"`
	StrategyType      models.StrategyType   `json:"strategy_type"`
	Pair              string                `json:"pair"`
	Status            Status                `json:"status"`
	IsRunning         bool                  `json:"is_running"`
	IsPaused          bool                  `json:"is_paused"`
	Balance           models.Balance        `json:"balance"`
	Positions         []models.Position     `json:"positions"`
	Trades            []models.Trade        `json:"trades"`
	CurrentLevel      int                   `json:"current_level"`
	InitialEntryPrice float64               `json:"initial_entry_price"`
	RecentHigh        float64               `json:"recent_high"`
	LastPrice         float64               `json:"last_price"`
	LastTick          time.Time             `json:"last_tick,omitempty"`
	Equity            float64               `json:"equity"`
	RealizedPnL       float64               `json:"realized_pnl"`
	TotalFees         float64               `json:"total_fees"`
	DesyncSuspected   bool                  `json:"desync_suspected"`
	CycleResets       int                   `json:"cycle_resets"`
	DesyncRepairs     int                   `json:"desync_repairs"`
	Config            models.StrategyConfig `json:"config"`
}

// Summary is the short per-bot entry of the manager snapshot.
type Summary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// StatusSnapshot returns a consistent copy of the bot's state.
func (b *Instance) StatusSnapshot() StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

// Summary returns the bot's id, name and status.
func (b *Instance) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Summary{ID: b.id, Name: b.name, Status: b.status}
}

func (b *Instance) statusLocked() StatusSnapshot {
	positions := b.ledger.Positions()
	if positions == nil {
		positions = []models.Position{}
	}
	trades := b.ledger.Trades()
	if trades == nil {
		trades = []models.Trade{}
	}
	return StatusSnapshot{
		BotID:             b.id,
		BotName:           b.name,
		StrategyType:      b.strategy.Type(),
		Pair:              b.pair,
		Status:            b.status,
		IsRunning:         b.status != Stopped,
		IsPaused:          b.status == Paused,
		Balance:           b.ledger.Balance(),
		Positions:         positions,
		Trades:            trades,
		CurrentLevel:      b.state.CurrentLevel,
		InitialEntryPrice: b.state.InitialEntryPrice,
		RecentHigh:        b.state.RecentHigh,
		LastPrice:         b.lastPrice,
		LastTick:          b.lastTick,
		Equity:            b.ledger.Equity(),
		RealizedPnL:       b.ledger.RealizedPnL(),
		TotalFees:         b.ledger.TotalFees(),
		DesyncSuspected:   b.desyncSuspected,
		CycleResets:       b.sm.Resets(),
		DesyncRepairs:     b.sm.Repairs(),
		Config:            b.cfg,
	}
}
