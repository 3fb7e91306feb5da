package strategy

import (
	"grid-scalper-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Signal is a decision produced by EntryLogic or ExitLogic.
type Signal struct {
	Side     models.Side
	Price    float64
	Level    int
	Strength float64
	Reason   string
}

// MarketAnalysis is what the bot knows about the market when evaluating a tick.
type MarketAnalysis struct {
	CurrentPrice float64
	RecentHigh   float64
}

var hundred = decimal.NewFromInt(100)

// dropPercent returns (from - to) / from * 100. Decimal arithmetic keeps
// thresholds like 100 -> 99.2 at exactly 0.8.
func dropPercent(from, to float64) decimal.Decimal {
	f := decimal.NewFromFloat(from)
	if f.IsZero() {
		return decimal.Zero
	}
	return f.Sub(decimal.NewFromFloat(to)).Div(f).Mul(hundred)
}

// targetPrice returns base * (1 + pct/100).
func targetPrice(base, pct float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(hundred))
	return decimal.NewFromFloat(base).Mul(factor)
}

// TradingFee returns notional * rate/100 * (1 - rebate/100).
func TradingFee(notional, ratePercent, rebatePercent float64) float64 {
	fee := decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(ratePercent)).Div(hundred).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(rebatePercent).Div(hundred)))
	return fee.InexactFloat64()
}
