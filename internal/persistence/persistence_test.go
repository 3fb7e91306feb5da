package persistence

import (
	"errors"
	"grid-scalper-bot-go/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleState(t *testing.T, id string) *models.BotState {
	t.Helper()
	s, err := models.DefaultStrategy(models.Micro)
	require.NoError(t, err)
	return &models.BotState{
		Version:   models.StateVersion,
		BotID:     id,
		Name:      "Micro Bot " + id,
		Pair:      "BTCUSDT",
		Strategy:  s,
		IsRunning: true,
		StrategyState: models.StrategyState{
			RecentHigh:        100,
			InitialEntryPrice: 99.2,
			CurrentLevel:      1,
			LevelPrices:       []float64{99.2},
			LevelSizes:        []float64{2.01},
			PriceWindow:       []float64{100, 99.2},
			CycleID:           "c-1",
		},
		Ledger: models.LedgerState{USD: 800, BaseHoldings: 2.01, TradeSeq: 1},
	}
}

func newRepo(t *testing.T) *badgerRepository {
	t.Helper()
	repo, err := openBadger(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBadgerRepositoryRoundTrip(t *testing.T) {
	repo := newRepo(t)
	state := sampleState(t, "micro-1")

	require.NoError(t, repo.SaveState(state))

	res, err := repo.LoadState("micro-1")
	require.NoError(t, err)
	require.Equal(t, LoadOK, res.Status)
	assert.Equal(t, state.StrategyState, res.State.StrategyState)
	assert.Equal(t, state.Ledger, res.State.Ledger)
	assert.Equal(t, state.Strategy.Config(), res.State.Strategy.Config())
	assert.True(t, res.State.IsRunning)
}

func TestBadgerRepositoryNotFound(t *testing.T) {
	repo := newRepo(t)

	res, err := repo.LoadState("proper-9")
	require.NoError(t, err)
	assert.Equal(t, LoadNotFound, res.Status)
	assert.Nil(t, res.State)
}

func TestBadgerRepositoryCorrupt(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey("micro-2"), []byte("{not json"))
	}))

	res, err := repo.LoadState("micro-2")
	require.NoError(t, err, "corruption is a result, not a storage error")
	assert.Equal(t, LoadCorrupt, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, "corrupt", res.Status.String())

	broken := sampleState(t, "micro-3")
	broken.StrategyState.LevelPrices = nil
	require.NoError(t, repo.SaveState(broken))
	res, err = repo.LoadState("micro-3")
	require.NoError(t, err)
	assert.Equal(t, LoadCorrupt, res.Status, "broken invariants must not be rehydrated")
}

func TestBadgerRepositoryListAndDelete(t *testing.T) {
	repo := newRepo(t)
	for _, id := range []string{"micro-2", "micro-1", "proper-1"} {
		require.NoError(t, repo.SaveState(sampleState(t, id)))
	}

	ids, err := repo.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"micro-1", "micro-2", "proper-1"}, ids)

	require.NoError(t, repo.DeleteState("micro-2"))
	require.NoError(t, repo.DeleteState("missing"))
	ids, err = repo.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"micro-1", "proper-1"}, ids)

	assert.Error(t, repo.SaveState(&models.BotState{}))
}

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	saved        map[string]*models.BotState
	saves        int
	failNext     int
	deleted      []string
	saveDoneChan chan string // Channel to signal when SaveState succeeded
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		saved:        make(map[string]*models.BotState),
		saveDoneChan: make(chan string, 16),
	}
}

func (m *mockStateRepository) SaveState(state *models.BotState) error {
	m.Lock()
	defer m.Unlock()
	m.saves++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("disk full")
	}
	m.saved[state.BotID] = state
	m.saveDoneChan <- state.BotID
	return nil
}

func (m *mockStateRepository) LoadState(botID string) (LoadResult, error) {
	m.Lock()
	defer m.Unlock()
	if s, ok := m.saved[botID]; ok {
		return LoadResult{Status: LoadOK, State: s}, nil
	}
	return LoadResult{Status: LoadNotFound}, nil
}

func (m *mockStateRepository) ListIDs() ([]string, error) { return nil, nil }

func (m *mockStateRepository) DeleteState(botID string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.saved, botID)
	m.deleted = append(m.deleted, botID)
	return nil
}

func (m *mockStateRepository) Close() error { return nil }

func (m *mockStateRepository) get(botID string) *models.BotState {
	m.Lock()
	defer m.Unlock()
	return m.saved[botID]
}

func waitSaved(t *testing.T, repo *mockStateRepository) string {
	t.Helper()
	select {
	case id := <-repo.saveDoneChan:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}
	return ""
}

func fastRetry() models.PersistenceConfig {
	return models.PersistenceConfig{RetryAttempts: 3, RetryInitialDelayMs: 1, RetryMaxDelayMs: 2, DegradedAfter: 1}
}

func TestWriterSavesAsynchronously(t *testing.T) {
	repo := newMockStateRepository()
	w := NewWriter(repo, fastRetry(), zap.NewNop())
	w.Start()
	defer w.Stop()

	w.Enqueue(sampleState(t, "micro-1"))
	assert.Equal(t, "micro-1", waitSaved(t, repo))
	require.NotNil(t, repo.get("micro-1"))
	assert.False(t, w.Degraded())
}

func TestWriterCoalescesPerBot(t *testing.T) {
	repo := newMockStateRepository()
	w := NewWriter(repo, fastRetry(), zap.NewNop())

	first := sampleState(t, "micro-1")
	second := sampleState(t, "micro-1")
	second.StrategyState.RecentHigh = 123
	w.Enqueue(first)
	w.Enqueue(second)
	w.Flush()

	assert.Equal(t, 1, repo.saves)
	assert.Equal(t, 123.0, repo.get("micro-1").StrategyState.RecentHigh, "latest snapshot wins")
}

func TestWriterRetriesThenDegrades(t *testing.T) {
	repo := newMockStateRepository()
	repo.failNext = 3
	w := NewWriter(repo, fastRetry(), zap.NewNop())

	w.Enqueue(sampleState(t, "micro-1"))
	w.Flush()
	assert.True(t, w.Degraded(), "all attempts failed")
	assert.Nil(t, repo.get("micro-1"))

	// the failed state stays queued and is written on the next drain
	w.Flush()
	assert.Equal(t, "micro-1", waitSaved(t, repo))
	assert.False(t, w.Degraded())
	assert.Equal(t, 4, repo.saves)
}

func TestWriterRetrySucceedsWithinAttempts(t *testing.T) {
	repo := newMockStateRepository()
	repo.failNext = 2
	w := NewWriter(repo, fastRetry(), zap.NewNop())

	w.Enqueue(sampleState(t, "micro-1"))
	w.Flush()
	assert.Equal(t, "micro-1", waitSaved(t, repo))
	assert.False(t, w.Degraded())
	assert.Equal(t, 3, repo.saves)
}

func TestWriterForget(t *testing.T) {
	repo := newMockStateRepository()
	w := NewWriter(repo, fastRetry(), zap.NewNop())

	w.Enqueue(sampleState(t, "micro-1"))
	require.NoError(t, w.Forget("micro-1"))
	w.Enqueue(sampleState(t, "micro-1"))
	w.Flush()

	assert.Equal(t, 0, repo.saves, "forgotten bots are never written again")
	assert.Equal(t, []string{"micro-1"}, repo.deleted)
}

func TestWriterStopDrains(t *testing.T) {
	repo := newMockStateRepository()
	w := NewWriter(repo, fastRetry(), zap.NewNop())
	w.Start()

	w.Enqueue(sampleState(t, "micro-1"))
	w.Enqueue(sampleState(t, "proper-1"))
	w.Stop()

	assert.NotNil(t, repo.get("micro-1"))
	assert.NotNil(t, repo.get("proper-1"))

	w.Enqueue(sampleState(t, "micro-2"))
	w.Stop()
	assert.Nil(t, repo.get("micro-2"), "enqueue after stop is dropped")
}
