package bot

import (
	"errors"
	"fmt"
	"grid-scalper-bot-go/internal/events"
	"grid-scalper-bot-go/internal/exchange"
	"grid-scalper-bot-go/internal/metrics"
	"grid-scalper-bot-go/internal/models"
	"grid-scalper-bot-go/internal/statemanager"
	"grid-scalper-bot-go/internal/strategy"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status 是Bot的运行状态
type Status string

const (
	Stopped Status = "stopped"
	Running Status = "running"
	Paused  Status = "paused"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStrategyLocked    = errors.New("strategy can only be changed while stopped with no open positions")
	ErrStrategyType      = errors.New("strategy type cannot change")
	ErrClosed            = errors.New("bot is closed")
)

// Persister 接收每次状态变化后的快照，必须不阻塞
type Persister interface {
	Enqueue(state *models.BotState)
}

type nopPersister struct{}

func (nopPersister) Enqueue(*models.BotState) {}

// Options 创建Bot所需的参数
type Options struct {
	ID             string
	Name           string
	Pair           string
	Strategy       models.Strategy
	InitialBalance float64
	VaultPercent   float64 // 每次盈利平仓转入金库的比例
	Persister      Persister
	Publisher      events.Publisher
	Logger         *zap.Logger
}

// Instance 把一个策略配置、策略状态、入场/出场逻辑和账本绑定在一起。
// 所有公开方法都持有同一把锁，同一个Bot的两次tick永远不会交错执行；
// 不同Bot之间没有共享状态，可以并发执行。
type Instance struct {
	mu sync.Mutex

	id    string
	name  string
	pair  string
	vault float64

	strategy models.Strategy
	cfg      models.StrategyConfig
	state    *models.StrategyState
	entry    *strategy.EntryLogic
	exit     *strategy.ExitLogic
	sm       *statemanager.StateManager
	ledger   exchange.Exchange

	status          Status
	lastPrice       float64
	lastTick        time.Time
	desyncSuspected bool
	closed          bool

	persister Persister
	publisher events.Publisher
	logger    *zap.Logger
}

// New 创建一个处于 Stopped 状态、只有初始USD余额的Bot
func New(opts Options) (*Instance, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	b := newInstance(opts)
	b.state = &models.StrategyState{}
	b.ledger = exchange.NewPaperExchange(opts.ID, opts.InitialBalance)
	b.bindLogic()
	return b, nil
}

// Rehydrate 从持久化状态恢复Bot。之前在运行（或暂停）的Bot恢复为相同状态，
// 运行中的Bot会直接继续交易。
func Rehydrate(st *models.BotState, opts Options) (*Instance, error) {
	if st == nil {
		return nil, errors.New("nil state")
	}
	opts.ID = st.BotID
	opts.Name = st.Name
	opts.Strategy = st.Strategy
	if st.Pair != "" {
		opts.Pair = st.Pair
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	b := newInstance(opts)
	b.state = st.StrategyState.Clone()
	b.ledger = exchange.RestorePaperExchange(st.BotID, st.Ledger)
	b.desyncSuspected = st.DesyncSuspected
	switch {
	case st.IsRunning && st.IsPaused:
		b.status = Paused
	case st.IsRunning:
		b.status = Running
	default:
		b.status = Stopped
	}
	b.bindLogic()
	// 阶梯档位必须与账本持仓一一对应
	if err := b.sm.Validate(b.ledger.Positions()); err != nil {
		return nil, fmt.Errorf("stored strategy state: %w", err)
	}
	return b, nil
}

func validateOptions(opts Options) error {
	if opts.ID == "" {
		return fmt.Errorf("%w: bot id is required", models.ErrInvalidConfig)
	}
	if strings.TrimSpace(opts.Pair) == "" {
		return fmt.Errorf("%w: trading pair is required", models.ErrInvalidConfig)
	}
	if opts.Strategy.Params == nil {
		return fmt.Errorf("%w: strategy is required", models.ErrInvalidConfig)
	}
	if err := opts.Strategy.Params.Validate(); err != nil {
		return err
	}
	if opts.VaultPercent < 0 || opts.VaultPercent > 100 {
		return fmt.Errorf("%w: vault percent (%f) must be within [0,100]", models.ErrInvalidConfig, opts.VaultPercent)
	}
	return nil
}

func newInstance(opts Options) *Instance {
	b := &Instance{
		id:        opts.ID,
		name:      opts.Name,
		pair:      strings.ToUpper(opts.Pair),
		vault:     opts.VaultPercent,
		strategy:  opts.Strategy,
		cfg:       opts.Strategy.Config(),
		status:    Stopped,
		persister: opts.Persister,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
	if b.name == "" {
		b.name = opts.ID
	}
	if b.persister == nil {
		b.persister = nopPersister{}
	}
	if b.publisher == nil {
		b.publisher = events.NopPublisher{}
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.With(zap.String("bot", opts.ID))
	return b
}

// bindLogic 将入场/出场逻辑和StateManager绑定到当前的配置和状态指针
func (b *Instance) bindLogic() {
	b.entry = strategy.NewEntryLogic(b.cfg, b.state)
	b.exit = strategy.NewExitLogic(b.cfg, b.state)
	if b.sm != nil {
		return // state指针不变，保留复位/修复计数
	}
	b.sm = statemanager.NewStateManager(b.state, b.logger)
	b.sm.OnDesync(func(int, float64) {
		metrics.DesyncRepairs.WithLabelValues(b.id).Inc()
	})
}

func (b *Instance) ID() string { return b.id }

func (b *Instance) Name() string { return b.name }

// Type 返回策略类型，创建后不会变化
func (b *Instance) Type() models.StrategyType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strategy.Type()
}

// Status 返回当前运行状态
func (b *Instance) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// OnPrice 处理一笔实时成交价。价格观察在任何状态下都会进行，
// 只有 Running 状态才会评估信号；每个tick最多执行一笔买入或卖出。
func (b *Instance) OnPrice(price float64, pair string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || price <= 0 || !b.matchesPair(pair) {
		return
	}
	b.lastPrice = price
	b.lastTick = time.Now()
	b.state.Observe(price, b.cfg.LookbackPeriod)

	if b.status != Running {
		return
	}
	if b.evaluate(price) {
		b.persist()
	}
}

// OnCandle 用收盘价更新近期高点，不评估信号
func (b *Instance) OnCandle(c models.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || c.Close <= 0 || !b.matchesPair(c.Symbol) {
		return
	}
	b.state.Observe(c.Close, b.cfg.LookbackPeriod)
	b.persist()
}

func (b *Instance) matchesPair(pair string) bool {
	return pair == "" || strings.EqualFold(pair, b.pair)
}

// evaluate 执行一次完整的tick评估，返回状态是否发生了需要持久化的变化。必须在持有锁的情况下调用。
func (b *Instance) evaluate(price float64) bool {
	changed := false
	positions := b.ledger.Positions()

	// --- 1. 周期与一致性检查 ---
	if b.sm.CheckForReset(positions) {
		metrics.CycleResets.WithLabelValues(b.id).Inc()
		changed = true
	}
	if b.sm.CheckSyncIssues(positions, b.ledger.Holdings()) {
		dropped := b.ledger.DiscardPositions()
		b.desyncSuspected = false
		positions = nil
		changed = true
		b.publish(events.EventDesyncRepaired, map[string]interface{}{
			"dropped_positions": len(dropped),
			"holdings":          b.ledger.Holdings(),
		})
	}
	if b.desyncSuspected && b.holdingsCover(positions) {
		b.logger.Info("Holdings cover tracked positions again, clearing desync flag")
		b.desyncSuspected = false
		changed = true
	}

	// --- 2. 出场优先 ---
	if len(positions) > 0 {
		if b.exit.ShouldTakeProfit(positions, price) || b.exit.ShouldStopLoss(positions, price) {
			return b.executeSell(b.exit.TakeProfitSignal(price)) || changed
		}
	}

	// --- 3. 入场 ---
	return b.tryEntry(price) || changed
}

func (b *Instance) holdingsCover(positions []models.Position) bool {
	size := 0.0
	for _, p := range positions {
		size += p.EntrySize
	}
	return size <= b.ledger.Holdings()+statemanager.HoldingsEpsilon
}

func (b *Instance) executeSell(sig *strategy.Signal) bool {
	res, err := b.ledger.SellAll(exchange.SellOrder{
		Price:        sig.Price,
		CycleID:      b.state.CycleID,
		Reason:       sig.Reason,
		VaultPercent: b.vault,
	}, b.cfg)
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientHoldings) {
			b.desyncSuspected = true
			metrics.SignalsDropped.WithLabelValues(b.id, "insufficient_holdings").Inc()
			b.logger.Warn("Sell rejected, ledger left unchanged and flagged for desync check", zap.Error(err))
			return true
		}
		b.logger.Error("Sell failed", zap.Error(err))
		return false
	}

	metrics.TradesExecuted.WithLabelValues(b.id, string(models.Sell)).Inc()
	b.logger.Info("Take profit executed",
		zap.Float64("price", res.Trade.Price),
		zap.Float64("size", res.Trade.Size),
		zap.Float64("netPnl", res.NetPnL),
		zap.Float64("vault", res.VaultTransfer),
		zap.Int("levels", len(res.Closed)))

	// 平仓后立即复位，下一个周期从新的高点开始
	if b.sm.CheckForReset(b.ledger.Positions()) {
		metrics.CycleResets.WithLabelValues(b.id).Inc()
	}
	b.recordTrade(res.Trade)
	return true
}

func (b *Instance) tryEntry(price float64) bool {
	saved := b.state.Clone()
	analysis := strategy.MarketAnalysis{CurrentPrice: price, RecentHigh: b.state.RecentHigh}

	var sig *strategy.Signal
	if b.state.CurrentLevel == 0 {
		sig = b.entry.CheckInitialEntry(analysis, price)
	} else {
		sig = b.entry.CheckLevelEntry(analysis, price)
	}
	if sig == nil {
		return false
	}

	notional := strategy.PositionNotional(b.cfg, sig.Level, b.ledger.Equity(), b.ledger.Allocated())
	if notional <= 0 {
		b.rollback(saved, "position_cap", sig, nil)
		return false
	}
	if sig.Level == 1 {
		b.state.CycleID = uuid.NewString()
	}

	trade, err := b.ledger.Buy(exchange.BuyOrder{
		Price:    sig.Price,
		Notional: notional,
		Level:    sig.Level,
		CycleID:  b.state.CycleID,
		Reason:   sig.Reason,
	}, b.cfg)
	if err != nil {
		reason := "buy_failed"
		if errors.Is(err, exchange.ErrInsufficientBalance) {
			reason = "insufficient_balance"
		}
		b.rollback(saved, reason, sig, err)
		return false
	}

	b.state.LevelSizes = append(b.state.LevelSizes, trade.Size)
	metrics.TradesExecuted.WithLabelValues(b.id, string(models.Buy)).Inc()
	b.logger.Info("Entry executed",
		zap.Int("level", sig.Level),
		zap.Float64("price", trade.Price),
		zap.Float64("size", trade.Size),
		zap.Float64("notional", notional),
		zap.String("reason", sig.Reason))
	b.recordTrade(trade)
	return true
}

// rollback 撤销入场逻辑对状态的修改，被丢弃的买入不算错误
func (b *Instance) rollback(saved *models.StrategyState, reason string, sig *strategy.Signal, err error) {
	*b.state = *saved
	metrics.SignalsDropped.WithLabelValues(b.id, reason).Inc()
	fields := []zap.Field{zap.String("reason", reason), zap.Int("level", sig.Level), zap.Float64("price", sig.Price)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	b.logger.Info("Buy signal dropped", fields...)
}

func (b *Instance) recordTrade(trade models.Trade) {
	metrics.CurrentLevel.WithLabelValues(b.id).Set(float64(b.state.CurrentLevel))
	metrics.EquityGauge.WithLabelValues(b.id).Set(b.ledger.Equity())
	b.publish(events.EventTradeExecuted, map[string]interface{}{
		"trade":  trade,
		"status": b.statusLocked(),
	})
}

// Start Stopped → Running
func (b *Instance) Start() error {
	return b.transition(events.EventBotStarted, Running, Stopped)
}

// Pause Running → Paused
func (b *Instance) Pause() error {
	return b.transition(events.EventBotPaused, Paused, Running)
}

// Resume Paused → Running
func (b *Instance) Resume() error {
	return b.transition(events.EventBotResumed, Running, Paused)
}

// Stop 任意状态 → Stopped，不强制平仓。返回后下一个tick不会再被评估。
func (b *Instance) Stop() error {
	return b.transition(events.EventBotStopped, Stopped, Stopped, Running, Paused)
}

func (b *Instance) transition(evt events.EventType, to Status, from ...Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	allowed := false
	for _, f := range from {
		if b.status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, b.status, to)
	}
	if b.status == to {
		return nil
	}

	b.logger.Info("Bot status changed", zap.String("from", string(b.status)), zap.String("to", string(to)))
	b.status = to
	b.persist()
	b.publish(evt, b.statusLocked())
	return nil
}

// UpdateStrategy 替换同类型策略的参数，只允许在停止且空仓时进行
func (b *Instance) UpdateStrategy(s models.Strategy) error {
	if s.Params == nil {
		return fmt.Errorf("%w: strategy is required", models.ErrInvalidConfig)
	}
	if err := s.Params.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if s.Type() != b.strategy.Type() {
		return fmt.Errorf("%w: bot %s runs %s, got %s", ErrStrategyType, b.id, b.strategy.Type(), s.Type())
	}
	if b.status != Stopped || len(b.ledger.Positions()) > 0 {
		return ErrStrategyLocked
	}

	b.strategy = s
	b.cfg = s.Config()
	b.bindLogic()
	b.logger.Info("Strategy updated", zap.Any("config", b.cfg))
	b.persist()
	b.publish(events.EventStrategyUpdated, b.statusLocked())
	return nil
}

// ReconcileHoldings 用外部对账得到的实际持有量覆盖账本。
// 持仓记录超过实际持有量时Bot被标记为疑似失步，交给下一次检查处理。
func (b *Instance) ReconcileHoldings(actual float64) error {
	if actual < 0 {
		return fmt.Errorf("%w: holdings (%g) must be >= 0", models.ErrInvalidConfig, actual)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.ledger.SyncHoldings(actual)
	if !b.holdingsCover(b.ledger.Positions()) {
		b.desyncSuspected = true
		b.logger.Warn("Holdings below tracked positions after reconciliation", zap.Float64("holdings", actual))
	}
	b.persist()
	return nil
}

// Snapshot 返回可持久化的完整状态
func (b *Instance) Snapshot() *models.BotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Instance) snapshotLocked() *models.BotState {
	return &models.BotState{
		Version:         models.StateVersion,
		BotID:           b.id,
		Name:            b.name,
		Pair:            b.pair,
		Strategy:        b.strategy,
		IsRunning:       b.status != Stopped,
		IsPaused:        b.status == Paused,
		DesyncSuspected: b.desyncSuspected,
		StrategyState:   *b.state.Clone(),
		Ledger:          b.ledger.State(),
		LastUpdateTime:  time.Now(),
	}
}

func (b *Instance) persist() {
	if b.closed {
		return
	}
	b.persister.Enqueue(b.snapshotLocked())
}

func (b *Instance) publish(evt events.EventType, data interface{}) {
	b.publisher.Publish(events.Event{Type: evt, BotID: b.id, Data: data})
}

// Shutdown 持久化当前状态（保留运行标志，重启后自动恢复）并释放Bot
func (b *Instance) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.persist()
	b.closed = true
}

// Close 停止交易并释放Bot，不再持久化
func (b *Instance) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.status = Stopped
	b.closed = true
	metrics.ForgetBot(b.id)
}
