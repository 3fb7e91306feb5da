package reporter

import (
	"bytes"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSnapshot() bot.StatusSnapshot {
	return bot.StatusSnapshot{
		BotID:        "micro-1",
		BotName:      "Micro #1",
		StrategyType: models.Micro,
		Status:       bot.Running,
		LastPrice:    100,
		Balance:      models.Balance{USD: 990, BaseHoldings: 0.1, Vault: 2},
		RealizedPnL:  5,
		TotalFees:    0.5,
		Trades: []models.Trade{
			{Type: models.Buy},
			{Type: models.Sell, PnL: 10},
			{Type: models.Buy},
			{Type: models.Sell, PnL: -5},
			{Type: models.Buy},
		},
	}
}

func TestCalculateMetrics(t *testing.T) {
	m := CalculateMetrics(sampleSnapshot(), 1000)

	assert.Equal(t, 3, m.Buys)
	assert.Equal(t, 2, m.Exits)
	assert.Equal(t, 1, m.WinningExits)
	assert.Equal(t, 1, m.LosingExits)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 2.0, m.AvgProfitLoss, 1e-9)
	assert.InDelta(t, 1002.0, m.MarkedValue, 1e-9)
	assert.InDelta(t, 2.0, m.TotalProfit, 1e-9)
	assert.InDelta(t, 0.2, m.ProfitPercentage, 1e-9)
	// 1000 -> 1010 -> 1005
	assert.InDelta(t, 5.0/1010*100, m.MaxDrawdown, 1e-9)
}

func TestCalculateMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, calculateMaxDrawdown([]float64{100}))
	assert.InDelta(t, 0.5, calculateMaxDrawdown([]float64{100, 200, 100, 150}), 1e-9)
	assert.Equal(t, 0.0, calculateMaxDrawdown([]float64{100, 110, 120}))
}

func TestRenderStatusMarksActiveBot(t *testing.T) {
	var buf bytes.Buffer
	desynced := sampleSnapshot()
	desynced.BotID = "micro-2"
	desynced.DesyncSuspected = true

	RenderStatus(&buf, []bot.StatusSnapshot{sampleSnapshot(), desynced}, "micro-1", 1000)

	out := buf.String()
	assert.Contains(t, out, "micro-1")
	assert.Contains(t, out, "micro-2")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "!")
	assert.Contains(t, out, "10.0000", "footer sums realized pnl")
}
