package strategy

import (
	"fmt"
	"grid-scalper-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ExitLogic decides when the whole ladder is sold.
type ExitLogic struct {
	cfg   models.StrategyConfig
	state *models.StrategyState
}

// NewExitLogic binds the logic to one bot's config and state.
func NewExitLogic(cfg models.StrategyConfig, state *models.StrategyState) *ExitLogic {
	return &ExitLogic{cfg: cfg, state: state}
}

// ShouldTakeProfit reports whether price reached ProfitTargetPercent above
// the first entry of the cycle. The target is measured from the first entry,
// not the size-weighted average.
func (x *ExitLogic) ShouldTakeProfit(positions []models.Position, currentPrice float64) bool {
	if len(positions) == 0 || x.state.InitialEntryPrice <= 0 {
		return false
	}
	target := targetPrice(x.state.InitialEntryPrice, x.cfg.ProfitTargetPercent)
	return decimal.NewFromFloat(currentPrice).GreaterThanOrEqual(target)
}

// ShouldStopLoss always returns false: the strategy never stops out.
func (x *ExitLogic) ShouldStopLoss(positions []models.Position, currentPrice float64) bool {
	return false
}

// TakeProfitSignal builds the SELL signal for a full exit.
func (x *ExitLogic) TakeProfitSignal(currentPrice float64) *Signal {
	return &Signal{
		Side:     models.Sell,
		Price:    currentPrice,
		Level:    x.state.CurrentLevel,
		Strength: 1,
		Reason: fmt.Sprintf("take profit: %.8g >= %.3f%% above first entry %.8g",
			currentPrice, x.cfg.ProfitTargetPercent, x.state.InitialEntryPrice),
	}
}

// NetPnL is the realized result of selling every position at exitPrice.
func (x *ExitLogic) NetPnL(positions []models.Position, exitPrice, exitFee float64) float64 {
	return NetPnL(positions, exitPrice, exitFee)
}

// NetPnL returns Σ(exit - entry_i) * size_i - Σ entryFee_i - exitFee.
func NetPnL(positions []models.Position, exitPrice, exitFee float64) float64 {
	exit := decimal.NewFromFloat(exitPrice)
	total := decimal.Zero
	for _, p := range positions {
		diff := exit.Sub(decimal.NewFromFloat(p.EntryPrice))
		total = total.Add(diff.Mul(decimal.NewFromFloat(p.EntrySize))).Sub(decimal.NewFromFloat(p.EntryFee))
	}
	return total.Sub(decimal.NewFromFloat(exitFee)).InexactFloat64()
}
