package statemanager

import (
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"math"

	"go.uber.org/zap"
)

// HoldingsEpsilon is the base-asset amount below which holdings count as zero.
const HoldingsEpsilon = 1e-9

// StateManager owns the cycle bookkeeping of one StrategyState.
// It is not safe for concurrent use; the owning bot serializes access.
type StateManager struct {
	state   *models.StrategyState
	logger  *zap.Logger
	resets  int
	repairs int
	onSync  func(positions int, assetBalance float64)
}

// NewStateManager binds a StateManager to a bot's StrategyState.
func NewStateManager(state *models.StrategyState, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{state: state, logger: logger}
}

// OnDesync registers a callback invoked every time CheckSyncIssues repairs a desync.
func (sm *StateManager) OnDesync(fn func(positions int, assetBalance float64)) {
	sm.onSync = fn
}

// ResetCycle clears the cycle and the recent-high tracker so the next cycle
// starts from a freshly observed high.
func (sm *StateManager) ResetCycle() {
	sm.state.InitialEntryPrice = 0
	sm.state.CurrentLevel = 0
	sm.state.LevelPrices = nil
	sm.state.LevelSizes = nil
	sm.state.RecentHigh = 0
	sm.state.PriceWindow = nil
	sm.state.CycleID = ""
	sm.resets++
}

// CheckForReset resets the cycle when the ledger is flat but the state still
// believes a cycle is open, i.e. right after a full exit.
func (sm *StateManager) CheckForReset(positions []models.Position) bool {
	if len(positions) == 0 && sm.state.InitialEntryPrice > 0 {
		sm.logger.Debug("Cycle complete, resetting strategy state",
			zap.String("cycleId", sm.state.CycleID),
			zap.Int("level", sm.state.CurrentLevel))
		sm.ResetCycle()
		return true
	}
	return false
}

// CheckSyncIssues detects tracked positions with no base asset behind them
// and repairs the state with a ResetCycle. It reports whether a repair ran.
func (sm *StateManager) CheckSyncIssues(positions []models.Position, assetBalance float64) bool {
	if len(positions) == 0 || math.Abs(assetBalance) > HoldingsEpsilon {
		return false
	}
	sm.logger.Warn("Strategy state out of sync with holdings, resetting cycle",
		zap.Int("trackedPositions", len(positions)),
		zap.Float64("assetBalance", assetBalance),
		zap.Int("level", sm.state.CurrentLevel),
		zap.Float64("initialEntryPrice", sm.state.InitialEntryPrice))
	sm.ResetCycle()
	sm.repairs++
	if sm.onSync != nil {
		sm.onSync(len(positions), assetBalance)
	}
	return true
}

// Validate checks the StrategyState invariants against the ledger's positions.
func (sm *StateManager) Validate(positions []models.Position) error {
	if err := sm.state.CheckInvariants(); err != nil {
		return err
	}
	if len(positions) != sm.state.CurrentLevel {
		return fmt.Errorf("ledger holds %d positions but strategy is at level %d", len(positions), sm.state.CurrentLevel)
	}
	return nil
}

// Resets returns how many times ResetCycle ran.
func (sm *StateManager) Resets() int { return sm.resets }

// Repairs returns how many desync repairs ran.
func (sm *StateManager) Repairs() int { return sm.repairs }
