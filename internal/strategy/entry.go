package strategy

import (
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"math"

	"github.com/shopspring/decimal"
)

const (
	initialEntryStrength = 0.7
	levelEntryStrength   = 0.8
)

// EntryLogic decides when to open the first position of a cycle and when to
// add a ladder level. It mutates the StrategyState it is bound to when a
// signal fires; callers that cannot execute the signal roll the state back.
type EntryLogic struct {
	cfg   models.StrategyConfig
	state *models.StrategyState
}

// NewEntryLogic binds the logic to one bot's config and state.
func NewEntryLogic(cfg models.StrategyConfig, state *models.StrategyState) *EntryLogic {
	return &EntryLogic{cfg: cfg, state: state}
}

// CheckInitialEntry fires when no cycle is open and price has dropped at
// least InitialDropPercent below the recent high.
func (e *EntryLogic) CheckInitialEntry(analysis MarketAnalysis, currentPrice float64) *Signal {
	if e.state.CurrentLevel != 0 || analysis.RecentHigh <= 0 || currentPrice <= 0 {
		return nil
	}
	drop := dropPercent(analysis.RecentHigh, currentPrice)
	if drop.LessThan(decimal.NewFromFloat(e.cfg.InitialDropPercent)) {
		return nil
	}

	e.state.InitialEntryPrice = currentPrice
	e.state.CurrentLevel = 1
	e.state.LevelPrices = []float64{currentPrice}

	return &Signal{
		Side:     models.Buy,
		Price:    currentPrice,
		Level:    1,
		Strength: initialEntryStrength,
		Reason: fmt.Sprintf("initial entry: %s%% drop from recent high %.8g",
			drop.StringFixed(3), analysis.RecentHigh),
	}
}

// CheckLevelEntry fires when a cycle is open, the ladder is not full, and
// price has dropped at least LevelDropPercent below the last level.
func (e *EntryLogic) CheckLevelEntry(analysis MarketAnalysis, currentPrice float64) *Signal {
	level := e.state.CurrentLevel
	if level <= 0 || level >= e.cfg.MaxLevels || currentPrice <= 0 {
		return nil
	}
	last := e.state.LastLevelPrice()
	if last <= 0 {
		return nil
	}
	drop := dropPercent(last, currentPrice)
	if drop.LessThan(decimal.NewFromFloat(e.cfg.LevelDropPercent)) {
		return nil
	}

	e.state.CurrentLevel = level + 1
	e.state.LevelPrices = append(e.state.LevelPrices, currentPrice)

	return &Signal{
		Side:     models.Buy,
		Price:    currentPrice,
		Level:    level + 1,
		Strength: levelEntryStrength,
		Reason: fmt.Sprintf("level %d entry: %s%% drop from level %d price %.8g",
			level+1, drop.StringFixed(3), level, last),
	}
}

// MinNotional is the smallest quote amount worth buying. Anything below it
// is treated as no room left under the cap.
const MinNotional = 1.0

// PositionNotional returns the quote amount to spend on ladder level
// `level`: equity * base% * ratio^(level-1), clamped so that after paying the
// entry fee the cost basis of all positions stays within max% of equity.
// Zero means nothing may be spent.
func PositionNotional(cfg models.StrategyConfig, level int, equity, allocated float64) float64 {
	if level < 1 || equity <= 0 {
		return 0
	}
	notional := equity * cfg.BasePositionPercent / 100 * math.Pow(cfg.RatioMultiplier, float64(level-1))

	maxFrac := cfg.MaxPositionPercent / 100
	feeFrac := cfg.TakerFeePercent / 100 * (1 - cfg.FeeRebatePercent/100)
	room := (equity*maxFrac - allocated) / (1 + maxFrac*feeFrac)
	if notional > room {
		notional = room
	}
	if notional < MinNotional {
		return 0
	}
	return notional
}
