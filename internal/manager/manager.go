package manager

import (
	"context"
	"errors"
	"fmt"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/events"
	"grid-scalper-bot-go/internal/metrics"
	"grid-scalper-bot-go/internal/models"
	"grid-scalper-bot-go/internal/persistence"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MaxBotsPerType caps how many bots one strategy type may have.
const MaxBotsPerType = 6

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrUnknownBot       = errors.New("unknown bot")
	ErrNoActiveBot      = errors.New("no active bot")
)

// StateStore is the asynchronous write side of persistence.
type StateStore interface {
	Enqueue(state *models.BotState)
	Forget(botID string) error
}

// StateLoader is the read side used to rehydrate bots at startup.
type StateLoader interface {
	ListIDs() ([]string, error)
	LoadState(botID string) (persistence.LoadResult, error)
}

// Options configures a BotManager.
type Options struct {
	Pair           string
	InitialBalance float64
	VaultPercent   float64
	Loader         StateLoader
	Store          StateStore
	Publisher      events.Publisher
	Logger         *zap.Logger
}

// Snapshot is the manager-level view returned by the command surface.
type Snapshot struct {
	ActiveBotID  *string                          `json:"active_bot_id"`
	Bots         map[string]bot.Summary           `json:"bots"`
	StrategyBots map[models.StrategyType][]string `json:"strategy_bots"`
}

// BotManager owns every bot instance, routes price updates to all of them and
// routes commands to the active one. Construct it with New, then call
// Initialize before use and Cleanup at shutdown.
type BotManager struct {
	mu           sync.RWMutex
	bots         map[string]*bot.Instance
	order        []string
	strategyBots map[models.StrategyType][]string
	counters     map[models.StrategyType]int
	activeID     string

	opts   Options
	logger *zap.Logger
}

// New creates an empty manager. It performs no I/O.
func New(opts Options) *BotManager {
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &BotManager{
		bots:         make(map[string]*bot.Instance),
		strategyBots: make(map[models.StrategyType][]string),
		counters:     make(map[models.StrategyType]int),
		opts:         opts,
		logger:       opts.Logger,
	}
}

// Initialize rehydrates every stored bot. Missing and corrupt states are
// logged and skipped; bots that were running resume trading.
func (m *BotManager) Initialize(ctx context.Context) error {
	if m.opts.Loader == nil {
		return nil
	}
	ids, err := m.opts.Loader.ListIDs()
	if err != nil {
		return fmt.Errorf("list stored bots: %w", err)
	}

	restored := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := m.opts.Loader.LoadState(id)
		if err != nil {
			return fmt.Errorf("load bot %s: %w", id, err)
		}
		switch res.Status {
		case persistence.LoadNotFound:
			m.logger.Warn("Stored bot disappeared before it could be loaded", zap.String("bot", id))
			continue
		case persistence.LoadCorrupt:
			m.logger.Error("Stored bot state is corrupt, skipping", zap.String("bot", id), zap.Error(res.Err))
			continue
		}

		b, err := bot.Rehydrate(res.State, m.botOptions())
		if err != nil {
			m.logger.Error("Stored bot state cannot be restored, skipping", zap.String("bot", id), zap.Error(err))
			continue
		}
		if err := m.register(b, idSequence(id)); err != nil {
			m.logger.Warn("Skipping stored bot", zap.String("bot", id), zap.Error(err))
			continue
		}
		restored++
		m.logger.Info("Bot restored",
			zap.String("bot", id),
			zap.String("status", string(b.Status())),
			zap.Int("level", res.State.StrategyState.CurrentLevel))
	}
	m.logger.Info("Bot manager initialized", zap.Int("restored", restored), zap.Int("stored", len(ids)))
	return nil
}

func (m *BotManager) botOptions() bot.Options {
	return bot.Options{
		Pair:           m.opts.Pair,
		InitialBalance: m.opts.InitialBalance,
		VaultPercent:   m.opts.VaultPercent,
		Persister:      m.persister(),
		Publisher:      m.opts.Publisher,
		Logger:         m.logger,
	}
}

func (m *BotManager) persister() bot.Persister {
	if m.opts.Store == nil {
		return nil
	}
	return m.opts.Store
}

// idSequence extracts n from "<type>-<n>", or 0.
func idSequence(id string) int {
	i := strings.LastIndex(id, "-")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// register adds a bot to both indexes. The first bot becomes active.
func (m *BotManager) register(b *bot.Instance, seq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := b.Type()
	if _, dup := m.bots[b.ID()]; dup {
		return fmt.Errorf("duplicate bot id %s", b.ID())
	}
	if len(m.strategyBots[t]) >= MaxBotsPerType {
		return fmt.Errorf("%w: %s already has %d bots", ErrCapacityExceeded, t, MaxBotsPerType)
	}
	m.bots[b.ID()] = b
	m.order = append(m.order, b.ID())
	m.strategyBots[t] = append(m.strategyBots[t], b.ID())
	if seq > m.counters[t] {
		m.counters[t] = seq
	}
	if m.activeID == "" {
		m.activeID = b.ID()
	}
	metrics.BotsGauge.Set(float64(len(m.bots)))
	return nil
}

// CreateBot allocates the next id for the strategy type and registers a new
// stopped bot. A nil strategy uses the type's defaults.
func (m *BotManager) CreateBot(t models.StrategyType, name string, s *models.Strategy) (bot.StatusSnapshot, error) {
	if !t.Valid() {
		return bot.StatusSnapshot{}, fmt.Errorf("%w: unknown strategy type %q", models.ErrInvalidConfig, t)
	}
	var strat models.Strategy
	if s != nil {
		if s.Type() != t {
			return bot.StatusSnapshot{}, fmt.Errorf("%w: strategy params are for %q, not %q", models.ErrInvalidConfig, s.Type(), t)
		}
		strat = *s
	} else {
		def, err := models.DefaultStrategy(t)
		if err != nil {
			return bot.StatusSnapshot{}, err
		}
		strat = def
	}

	m.mu.Lock()
	if len(m.strategyBots[t]) >= MaxBotsPerType {
		m.mu.Unlock()
		return bot.StatusSnapshot{}, fmt.Errorf("%w: %s already has %d bots", ErrCapacityExceeded, t, MaxBotsPerType)
	}
	seq := m.counters[t] + 1
	id := fmt.Sprintf("%s-%d", t, seq)
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%s #%d", t, seq)
	}

	opts := m.botOptions()
	opts.ID = id
	opts.Name = name
	opts.Strategy = strat
	b, err := bot.New(opts)
	if err != nil {
		m.mu.Unlock()
		return bot.StatusSnapshot{}, err
	}

	m.bots[id] = b
	m.order = append(m.order, id)
	m.strategyBots[t] = append(m.strategyBots[t], id)
	m.counters[t] = seq
	if m.activeID == "" {
		m.activeID = id
	}
	metrics.BotsGauge.Set(float64(len(m.bots)))
	m.mu.Unlock()

	if m.opts.Store != nil {
		m.opts.Store.Enqueue(b.Snapshot())
	}
	status := b.StatusSnapshot()
	m.logger.Info("Bot created", zap.String("bot", id), zap.String("type", string(t)))
	m.opts.Publisher.Publish(events.Event{Type: events.EventBotCreated, BotID: id, Data: status})
	return status, nil
}

// SelectBot makes the bot the target of routed commands.
func (m *BotManager) SelectBot(id string) (bot.StatusSnapshot, error) {
	m.mu.Lock()
	b, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return bot.StatusSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownBot, id)
	}
	m.activeID = id
	m.mu.Unlock()

	status := b.StatusSnapshot()
	m.opts.Publisher.Publish(events.Event{Type: events.EventBotSelected, BotID: id, Data: status})
	return status, nil
}

// DeleteBot stops and releases the bot, then removes it from every index.
// If it was active, the first remaining bot in creation order becomes active.
func (m *BotManager) DeleteBot(id string) error {
	m.mu.Lock()
	b, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBot, id)
	}

	b.Close()
	t := b.Type()
	delete(m.bots, id)
	m.order = removeID(m.order, id)
	m.strategyBots[t] = removeID(m.strategyBots[t], id)
	if len(m.strategyBots[t]) == 0 {
		delete(m.strategyBots, t)
	}
	if m.activeID == id {
		m.activeID = ""
		if len(m.order) > 0 {
			m.activeID = m.order[0]
		}
	}
	active := m.activeID
	metrics.BotsGauge.Set(float64(len(m.bots)))
	m.mu.Unlock()

	if m.opts.Store != nil {
		if err := m.opts.Store.Forget(id); err != nil {
			m.logger.Error("Failed to delete stored bot state", zap.String("bot", id), zap.Error(err))
		}
	}
	m.logger.Info("Bot deleted", zap.String("bot", id), zap.String("active", active))
	m.opts.Publisher.Publish(events.Event{
		Type:  events.EventBotDeleted,
		BotID: id,
		Data:  map[string]interface{}{"active_bot_id": active},
	})
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// UpdateRealtimePrice fans the tick out to every bot, running or not, and
// returns once all of them have processed it. Bots are evaluated concurrently.
func (m *BotManager) UpdateRealtimePrice(price float64, pair string) {
	metrics.TicksDispatched.Inc()
	m.fanOut(func(b *bot.Instance) { b.OnPrice(price, pair) })
}

// UpdateCandle fans a closed candle out to every bot.
func (m *BotManager) UpdateCandle(c models.Candle) {
	m.fanOut(func(b *bot.Instance) { b.OnCandle(c) })
}

func (m *BotManager) fanOut(fn func(b *bot.Instance)) {
	m.mu.RLock()
	targets := make([]*bot.Instance, 0, len(m.bots))
	for _, id := range m.order {
		targets = append(targets, m.bots[id])
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range targets {
		wg.Add(1)
		go func(b *bot.Instance) {
			defer wg.Done()
			fn(b)
		}(b)
	}
	wg.Wait()
}

func (m *BotManager) active() (*bot.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID == "" {
		return nil, ErrNoActiveBot
	}
	return m.bots[m.activeID], nil
}

// Start starts the active bot, applying new strategy params first if given.
func (m *BotManager) Start(s *models.Strategy) (bot.StatusSnapshot, error) {
	b, err := m.active()
	if err != nil {
		return bot.StatusSnapshot{}, err
	}
	if s != nil {
		if err := b.UpdateStrategy(*s); err != nil {
			return bot.StatusSnapshot{}, err
		}
	}
	if err := b.Start(); err != nil {
		return bot.StatusSnapshot{}, err
	}
	return b.StatusSnapshot(), nil
}

// Stop stops the active bot.
func (m *BotManager) Stop() (bot.StatusSnapshot, error) {
	return m.command((*bot.Instance).Stop)
}

// Pause pauses the active bot.
func (m *BotManager) Pause() (bot.StatusSnapshot, error) {
	return m.command((*bot.Instance).Pause)
}

// Resume resumes the active bot.
func (m *BotManager) Resume() (bot.StatusSnapshot, error) {
	return m.command((*bot.Instance).Resume)
}

// UpdateStrategy replaces the active bot's strategy params.
func (m *BotManager) UpdateStrategy(s models.Strategy) (bot.StatusSnapshot, error) {
	return m.command(func(b *bot.Instance) error { return b.UpdateStrategy(s) })
}

func (m *BotManager) command(fn func(b *bot.Instance) error) (bot.StatusSnapshot, error) {
	b, err := m.active()
	if err != nil {
		return bot.StatusSnapshot{}, err
	}
	if err := fn(b); err != nil {
		return bot.StatusSnapshot{}, err
	}
	return b.StatusSnapshot(), nil
}

// ReconcileHoldings overwrites the active bot's base holdings with an
// externally reconciled amount. Holdings below the tracked positions flag the
// bot, and the next tick's sync check repairs it.
func (m *BotManager) ReconcileHoldings(actual float64) (bot.StatusSnapshot, error) {
	return m.command(func(b *bot.Instance) error { return b.ReconcileHoldings(actual) })
}

// Status returns the active bot's status.
func (m *BotManager) Status() (bot.StatusSnapshot, error) {
	return m.command(func(*bot.Instance) error { return nil })
}

// BotStatus returns the status of any bot.
func (m *BotManager) BotStatus(id string) (bot.StatusSnapshot, error) {
	m.mu.RLock()
	b, ok := m.bots[id]
	m.mu.RUnlock()
	if !ok {
		return bot.StatusSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownBot, id)
	}
	return b.StatusSnapshot(), nil
}

// Bots returns every bot in creation order.
func (m *BotManager) Bots() []*bot.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*bot.Instance, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.bots[id])
	}
	return out
}

// Snapshot returns the manager-level view.
func (m *BotManager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Bots:         make(map[string]bot.Summary, len(m.bots)),
		StrategyBots: make(map[models.StrategyType][]string, len(m.strategyBots)),
	}
	if m.activeID != "" {
		id := m.activeID
		snap.ActiveBotID = &id
	}
	for id, b := range m.bots {
		snap.Bots[id] = b.Summary()
	}
	for t, ids := range m.strategyBots {
		snap.StrategyBots[t] = append([]string(nil), ids...)
	}
	return snap
}

// Cleanup persists and releases every bot. Running flags are kept in the
// stored state so the bots resume on the next Initialize.
func (m *BotManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		m.bots[id].Shutdown()
	}
	m.logger.Info("Bot manager cleaned up", zap.Int("bots", len(m.bots)))
	m.bots = make(map[string]*bot.Instance)
	m.order = nil
	m.strategyBots = make(map[models.StrategyType][]string)
	m.activeID = ""
	metrics.BotsGauge.Set(0)
}
