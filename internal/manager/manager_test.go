package manager

import (
	"context"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/events"
	"grid-scalper-bot-go/internal/models"
	"grid-scalper-bot-go/internal/persistence"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pair = "BTCUSDT"

type recordingPublisher struct {
	sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.Lock()
	defer p.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count(t events.EventType) int {
	p.Lock()
	defer p.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// memoryStore writes synchronously to a repository so tests can observe it.
type memoryStore struct {
	repo persistence.StateRepository
}

func (s memoryStore) Enqueue(state *models.BotState) { _ = s.repo.SaveState(state) }
func (s memoryStore) Forget(botID string) error      { return s.repo.DeleteState(botID) }

func newManager(t *testing.T) (*BotManager, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return New(Options{
		Pair:           pair,
		InitialBalance: 1000,
		Publisher:      pub,
		Logger:         zap.NewNop(),
	}), pub
}

func TestCreateBotAssignsSequentialIDs(t *testing.T) {
	m, pub := newManager(t)

	first, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	second, err := m.CreateBot(models.Micro, "scalper", nil)
	require.NoError(t, err)
	other, err := m.CreateBot(models.Proper, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "micro-1", first.BotID)
	assert.Equal(t, "micro-2", second.BotID)
	assert.Equal(t, "scalper", second.BotName)
	assert.Equal(t, "proper-1", other.BotID)

	snap := m.Snapshot()
	require.NotNil(t, snap.ActiveBotID)
	assert.Equal(t, "micro-1", *snap.ActiveBotID, "first bot becomes active")
	assert.Equal(t, []string{"micro-1", "micro-2"}, snap.StrategyBots[models.Micro])
	assert.Equal(t, bot.Stopped, snap.Bots["proper-1"].Status)
	assert.Equal(t, 3, pub.count(events.EventBotCreated))
}

func TestCreateBotRejectsBadInput(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.CreateBot("martingale", "", nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	proper, err := models.DefaultStrategy(models.Proper)
	require.NoError(t, err)
	_, err = m.CreateBot(models.Micro, "", &proper)
	assert.ErrorIs(t, err, models.ErrInvalidConfig, "params must match the type")
	assert.Empty(t, m.Bots())
}

func TestCapacityPerStrategyType(t *testing.T) {
	m, _ := newManager(t)
	for i := 0; i < MaxBotsPerType; i++ {
		_, err := m.CreateBot(models.UltraMicro, "", nil)
		require.NoError(t, err)
	}

	_, err := m.CreateBot(models.UltraMicro, "", nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Len(t, m.Snapshot().StrategyBots[models.UltraMicro], MaxBotsPerType, "no bot is created past the cap")

	_, err = m.CreateBot(models.Micro, "", nil)
	assert.NoError(t, err, "the cap is per strategy type")
}

func TestCommandsWithoutActiveBot(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Start(nil)
	assert.ErrorIs(t, err, ErrNoActiveBot)
	_, err = m.Stop()
	assert.ErrorIs(t, err, ErrNoActiveBot)
	_, err = m.Pause()
	assert.ErrorIs(t, err, ErrNoActiveBot)
	_, err = m.Resume()
	assert.ErrorIs(t, err, ErrNoActiveBot)
	_, err = m.Status()
	assert.ErrorIs(t, err, ErrNoActiveBot)
	_, err = m.ReconcileHoldings(0)
	assert.ErrorIs(t, err, ErrNoActiveBot)
	assert.Nil(t, m.Snapshot().ActiveBotID)
}

func TestCommandsTargetActiveBot(t *testing.T) {
	m, pub := newManager(t)
	_, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)

	status, err := m.SelectBot("micro-2")
	require.NoError(t, err)
	assert.Equal(t, "micro-2", status.BotID)
	assert.Equal(t, 1, pub.count(events.EventBotSelected))

	status, err = m.Start(nil)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)

	status, err = m.Pause()
	require.NoError(t, err)
	assert.True(t, status.IsPaused)

	_, err = m.Resume()
	require.NoError(t, err)

	one, err := m.BotStatus("micro-1")
	require.NoError(t, err)
	assert.False(t, one.IsRunning, "only the active bot receives commands")

	_, err = m.SelectBot("micro-9")
	assert.ErrorIs(t, err, ErrUnknownBot)
	_, err = m.BotStatus("micro-9")
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestStartWithStrategyParams(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)

	cfg, err := models.DefaultConfig(models.Micro)
	require.NoError(t, err)
	cfg.MaxLevels = 2
	params, err := models.NewStrategyParams(models.Micro, cfg)
	require.NoError(t, err)

	status, err := m.Start(&models.Strategy{Params: params})
	require.NoError(t, err)
	assert.Equal(t, 2, status.Config.MaxLevels)

	_, err = m.UpdateStrategy(models.Strategy{Params: params})
	assert.ErrorIs(t, err, bot.ErrStrategyLocked)
}

func TestReconcileHoldingsRepairsActiveBot(t *testing.T) {
	m, pub := newManager(t)
	_, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = m.Start(nil)
	require.NoError(t, err)

	m.UpdateRealtimePrice(100, pair)
	m.UpdateRealtimePrice(99, pair)
	status, err := m.Status()
	require.NoError(t, err)
	require.Equal(t, 1, status.CurrentLevel)

	_, err = m.ReconcileHoldings(-1)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	status, err = m.ReconcileHoldings(0)
	require.NoError(t, err)
	assert.True(t, status.DesyncSuspected)
	assert.Equal(t, 0.0, status.Balance.BaseHoldings)

	// next tick drops the phantom positions
	m.UpdateRealtimePrice(99, pair)
	status, err = m.Status()
	require.NoError(t, err)
	assert.False(t, status.DesyncSuspected)
	assert.Equal(t, 0, status.CurrentLevel)
	assert.Empty(t, status.Positions)
	assert.Equal(t, 1, pub.count(events.EventDesyncRepaired))
}

func TestPriceFansOutToEveryBot(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = m.Start(nil)
	require.NoError(t, err)

	m.UpdateRealtimePrice(105, pair)

	for _, id := range []string{"micro-1", "micro-2"} {
		status, err := m.BotStatus(id)
		require.NoError(t, err)
		assert.Equal(t, 105.0, status.RecentHigh, "%s tracks price whether active or not", id)
	}

	m.UpdateCandle(models.Candle{Symbol: pair, Close: 110})
	status, err := m.BotStatus("micro-2")
	require.NoError(t, err)
	assert.Equal(t, 110.0, status.RecentHigh)
}

func TestDeleteActiveBotFallsBackInCreationOrder(t *testing.T) {
	m, pub := newManager(t)
	for i := 0; i < 3; i++ {
		_, err := m.CreateBot(models.Micro, "", nil)
		require.NoError(t, err)
	}
	_, err := m.Start(nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteBot("micro-1"))
	snap := m.Snapshot()
	require.NotNil(t, snap.ActiveBotID)
	assert.Equal(t, "micro-2", *snap.ActiveBotID)
	assert.NotContains(t, snap.Bots, "micro-1")
	assert.Equal(t, []string{"micro-2", "micro-3"}, snap.StrategyBots[models.Micro])
	assert.Equal(t, 1, pub.count(events.EventBotDeleted))

	assert.ErrorIs(t, m.DeleteBot("micro-1"), ErrUnknownBot)

	require.NoError(t, m.DeleteBot("micro-2"))
	require.NoError(t, m.DeleteBot("micro-3"))
	assert.Nil(t, m.Snapshot().ActiveBotID)
	assert.NotContains(t, m.Snapshot().StrategyBots, models.Micro)

	// ids are never reused within a process
	status, err := m.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "micro-4", status.BotID)
}

func TestInitializeRehydratesAndResumes(t *testing.T) {
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()
	store := memoryStore{repo: repo}

	first := New(Options{Pair: pair, InitialBalance: 1000, Loader: repo, Store: store, Logger: zap.NewNop()})
	require.NoError(t, first.Initialize(context.Background()))
	_, err = first.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = first.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	_, err = first.CreateBot(models.Proper, "", nil)
	require.NoError(t, err)
	_, err = first.Start(nil)
	require.NoError(t, err)
	first.UpdateRealtimePrice(100, pair)
	first.UpdateRealtimePrice(99, pair)
	require.NoError(t, first.DeleteBot("micro-2"))

	before, err := first.BotStatus("micro-1")
	require.NoError(t, err)
	require.Equal(t, 1, before.CurrentLevel)
	first.Cleanup()
	assert.Empty(t, first.Bots())

	second := New(Options{Pair: pair, InitialBalance: 1000, Loader: repo, Store: store, Logger: zap.NewNop()})
	require.NoError(t, second.Initialize(context.Background()))

	snap := second.Snapshot()
	assert.Len(t, snap.Bots, 2)
	assert.NotContains(t, snap.Bots, "micro-2", "deleted bots stay deleted")

	after, err := second.BotStatus("micro-1")
	require.NoError(t, err)
	assert.Equal(t, bot.Running, after.Status, "running bots resume after restart")
	assert.Equal(t, before.CurrentLevel, after.CurrentLevel)
	assert.Equal(t, before.InitialEntryPrice, after.InitialEntryPrice)
	assert.Equal(t, before.Balance, after.Balance)

	proper, err := second.BotStatus("proper-1")
	require.NoError(t, err)
	assert.Equal(t, bot.Stopped, proper.Status)

	created, err := second.CreateBot(models.Micro, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "micro-2", created.BotID, "counter continues from the highest stored id")
}

type stubLoader struct {
	results map[string]persistence.LoadResult
	ids     []string
}

func (s stubLoader) ListIDs() ([]string, error) { return s.ids, nil }
func (s stubLoader) LoadState(id string) (persistence.LoadResult, error) {
	return s.results[id], nil
}

func TestInitializeSkipsMissingAndCorrupt(t *testing.T) {
	strat, err := models.DefaultStrategy(models.Micro)
	require.NoError(t, err)
	good := &models.BotState{BotID: "micro-3", Name: "ok", Pair: pair, Strategy: strat}

	loader := stubLoader{
		ids: []string{"micro-1", "micro-2", "micro-3"},
		results: map[string]persistence.LoadResult{
			"micro-1": {Status: persistence.LoadNotFound},
			"micro-2": {Status: persistence.LoadCorrupt, Err: assert.AnError},
			"micro-3": {Status: persistence.LoadOK, State: good},
		},
	}
	m := New(Options{Pair: pair, InitialBalance: 1000, Loader: loader, Logger: zap.NewNop()})
	require.NoError(t, m.Initialize(context.Background()))

	snap := m.Snapshot()
	assert.Len(t, snap.Bots, 1)
	require.NotNil(t, snap.ActiveBotID)
	assert.Equal(t, "micro-3", *snap.ActiveBotID)
}

func TestInitializeHonorsCancellation(t *testing.T) {
	loader := stubLoader{ids: []string{"micro-1"}}
	m := New(Options{Loader: loader})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Initialize(ctx), context.Canceled)
}
