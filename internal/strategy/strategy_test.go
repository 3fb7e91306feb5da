package strategy

import (
	"grid-scalper-bot-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func microConfig(t *testing.T) models.StrategyConfig {
	t.Helper()
	cfg, err := models.DefaultConfig(models.Micro)
	require.NoError(t, err)
	cfg.InitialDropPercent = 0.8
	cfg.LevelDropPercent = 0.5
	cfg.ProfitTargetPercent = 1.5
	cfg.MaxLevels = 5
	cfg.BasePositionPercent = 20
	return cfg
}

func TestCheckInitialEntry(t *testing.T) {
	cfg := microConfig(t)

	t.Run("exact threshold fires", func(t *testing.T) {
		state := &models.StrategyState{}
		entry := NewEntryLogic(cfg, state)

		sig := entry.CheckInitialEntry(MarketAnalysis{CurrentPrice: 99.2, RecentHigh: 100}, 99.2)
		require.NotNil(t, sig, "a 0.8% drop must trigger at a 0.8% threshold")
		assert.Equal(t, models.Buy, sig.Side)
		assert.Equal(t, 0.7, sig.Strength)
		assert.Equal(t, 1, sig.Level)
		assert.Contains(t, sig.Reason, "0.800%")

		assert.Equal(t, 1, state.CurrentLevel)
		assert.Equal(t, 99.2, state.InitialEntryPrice)
		assert.Equal(t, []float64{99.2}, state.LevelPrices)
	})

	t.Run("shallow drop does not fire", func(t *testing.T) {
		state := &models.StrategyState{}
		entry := NewEntryLogic(cfg, state)

		assert.Nil(t, entry.CheckInitialEntry(MarketAnalysis{RecentHigh: 100}, 99.3))
		assert.Equal(t, 0, state.CurrentLevel)
		assert.Empty(t, state.LevelPrices)
	})

	t.Run("uninitialized high does not fire", func(t *testing.T) {
		state := &models.StrategyState{}
		entry := NewEntryLogic(cfg, state)
		assert.Nil(t, entry.CheckInitialEntry(MarketAnalysis{RecentHigh: 0}, 50))
	})

	t.Run("open cycle does not fire", func(t *testing.T) {
		state := &models.StrategyState{CurrentLevel: 1, InitialEntryPrice: 99, LevelPrices: []float64{99}}
		entry := NewEntryLogic(cfg, state)
		assert.Nil(t, entry.CheckInitialEntry(MarketAnalysis{RecentHigh: 100}, 90))
		assert.Equal(t, 1, state.CurrentLevel)
	})
}

func TestCheckLevelEntry(t *testing.T) {
	cfg := microConfig(t)

	t.Run("drop from last level fires", func(t *testing.T) {
		state := &models.StrategyState{CurrentLevel: 1, InitialEntryPrice: 99.2, LevelPrices: []float64{99.2}}
		entry := NewEntryLogic(cfg, state)

		sig := entry.CheckLevelEntry(MarketAnalysis{}, 98.7)
		require.NotNil(t, sig)
		assert.Equal(t, 0.8, sig.Strength)
		assert.Equal(t, 2, sig.Level)
		assert.Equal(t, 2, state.CurrentLevel)
		assert.Equal(t, []float64{99.2, 98.7}, state.LevelPrices)
	})

	t.Run("no cycle does not fire", func(t *testing.T) {
		state := &models.StrategyState{}
		entry := NewEntryLogic(cfg, state)
		assert.Nil(t, entry.CheckLevelEntry(MarketAnalysis{}, 50))
	})

	t.Run("full ladder does not fire", func(t *testing.T) {
		state := &models.StrategyState{
			CurrentLevel:      5,
			InitialEntryPrice: 100,
			LevelPrices:       []float64{100, 99, 98, 97, 96},
		}
		entry := NewEntryLogic(cfg, state)
		assert.Nil(t, entry.CheckLevelEntry(MarketAnalysis{}, 50))
		assert.Equal(t, 5, state.CurrentLevel)
	})

	t.Run("measured from last level not first", func(t *testing.T) {
		state := &models.StrategyState{CurrentLevel: 2, InitialEntryPrice: 100, LevelPrices: []float64{100, 99}}
		entry := NewEntryLogic(cfg, state)
		assert.Nil(t, entry.CheckLevelEntry(MarketAnalysis{}, 98.6), "0.40% below last level is not enough")
		require.NotNil(t, entry.CheckLevelEntry(MarketAnalysis{}, 98.505))
	})
}

func TestShouldTakeProfit(t *testing.T) {
	cfg := microConfig(t)
	state := &models.StrategyState{CurrentLevel: 2, InitialEntryPrice: 99.2, LevelPrices: []float64{99.2, 98.7}}
	exit := NewExitLogic(cfg, state)
	positions := []models.Position{{EntryPrice: 99.2, EntrySize: 1}, {EntryPrice: 98.7, EntrySize: 1}}

	assert.False(t, exit.ShouldTakeProfit(positions, 100.68))
	assert.True(t, exit.ShouldTakeProfit(positions, 100.688), "target is measured from the first entry")
	assert.True(t, exit.ShouldTakeProfit(positions, 100.69))
	assert.False(t, exit.ShouldTakeProfit(nil, 200), "never fires without positions")

	flat := NewExitLogic(cfg, &models.StrategyState{})
	assert.False(t, flat.ShouldTakeProfit(positions, 200), "never fires without an initial entry")

	assert.False(t, exit.ShouldStopLoss(positions, 1))
}

func TestNetPnL(t *testing.T) {
	positions := []models.Position{
		{EntryPrice: 100, EntrySize: 1, EntryFee: 0.1},
		{EntryPrice: 98, EntrySize: 2, EntryFee: 0.2},
	}
	// (101-100)*1 + (101-98)*2 - 0.3 - 0.5
	assert.InDelta(t, 6.2, NetPnL(positions, 101, 0.5), 1e-9)

	exit := NewExitLogic(models.StrategyConfig{}, &models.StrategyState{})
	assert.InDelta(t, 6.2, exit.NetPnL(positions, 101, 0.5), 1e-9)
}

func TestTradingFee(t *testing.T) {
	assert.InDelta(t, 0.1, TradingFee(100, 0.1, 0), 1e-12)
	assert.InDelta(t, 0.075, TradingFee(100, 0.1, 25), 1e-12)
	assert.Equal(t, 0.0, TradingFee(100, 0.1, 100))
}

func TestPositionNotional(t *testing.T) {
	cfg := models.StrategyConfig{BasePositionPercent: 10, MaxPositionPercent: 50, RatioMultiplier: 2}

	assert.InDelta(t, 100, PositionNotional(cfg, 1, 1000, 0), 1e-9)
	assert.InDelta(t, 200, PositionNotional(cfg, 2, 1000, 100), 1e-9)
	// level 3 wants 400 but only 500-300 of room is left
	assert.InDelta(t, 200, PositionNotional(cfg, 3, 1000, 300), 1e-9)
	assert.Equal(t, 0.0, PositionNotional(cfg, 4, 1000, 500), "cap reached")
	assert.Equal(t, 0.0, PositionNotional(cfg, 0, 1000, 0))
	assert.Equal(t, 0.0, PositionNotional(cfg, 1, 0, 0))
}
