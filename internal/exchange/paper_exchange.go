package exchange

import (
	"encoding/binary"
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"grid-scalper-bot-go/internal/strategy"
	"math"
	"time"

	"github.com/jxskiss/base62"
)

// dust 低于该数量的基础资产视为0，避免浮点误差
const dust = 1e-9

// PaperExchange 实现了 Exchange 接口，在内存中模拟成交并维护账本。
type PaperExchange struct {
	botID       string
	usd         float64
	holdings    float64
	vault       float64
	realizedPnL float64
	totalFees   float64
	positions   []models.Position
	trades      []models.Trade
	tradeSeq    uint32
	now         func() time.Time
}

// NewPaperExchange 创建一个只有USD余额的账本
func NewPaperExchange(botID string, initialUSD float64) *PaperExchange {
	return &PaperExchange{botID: botID, usd: initialUSD, now: time.Now}
}

// RestorePaperExchange 从持久化的账本状态恢复
func RestorePaperExchange(botID string, st models.LedgerState) *PaperExchange {
	return &PaperExchange{
		botID:       botID,
		usd:         st.USD,
		holdings:    st.BaseHoldings,
		vault:       st.Vault,
		realizedPnL: st.RealizedPnL,
		totalFees:   st.TotalFees,
		positions:   append([]models.Position(nil), st.Positions...),
		trades:      append([]models.Trade(nil), st.Trades...),
		tradeSeq:    st.TradeSeq,
		now:         time.Now,
	}
}

// Buy 以含滑点的价格买入，手续费按吃单费率扣除返佣后计算。
// 资金不足时账本保持不变并返回 ErrInsufficientBalance。
func (e *PaperExchange) Buy(order BuyOrder, cfg models.StrategyConfig) (models.Trade, error) {
	if order.Price <= 0 || order.Notional <= 0 {
		return models.Trade{}, fmt.Errorf("%w: price=%f notional=%f", ErrInvalidOrder, order.Price, order.Notional)
	}

	// --- 1. 计算包含滑点的成交价 ---
	executionPrice := order.Price * (1 + cfg.SlippagePercent/100)

	// --- 2. 计算手续费 ---
	fee := strategy.TradingFee(order.Notional, cfg.TakerFeePercent, cfg.FeeRebatePercent)
	if order.Notional+fee > e.usd+dust {
		return models.Trade{}, fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientBalance, order.Notional+fee, e.usd)
	}

	// --- 3. 更新账本 ---
	size := order.Notional / executionPrice
	now := e.now()
	e.usd -= order.Notional + fee
	if e.usd < 0 {
		e.usd = 0
	}
	e.holdings += size
	e.totalFees += fee
	e.positions = append(e.positions, models.Position{
		EntryPrice: executionPrice,
		EntrySize:  size,
		EntryFee:   fee,
		LevelIndex: order.Level,
		OpenedAt:   now,
	})

	trade := models.Trade{
		ID:        e.nextTradeID(now),
		CycleID:   order.CycleID,
		Type:      models.Buy,
		Price:     executionPrice,
		Size:      size,
		Fee:       fee,
		Level:     order.Level,
		Reason:    order.Reason,
		Timestamp: now,
	}
	e.trades = append(e.trades, trade)
	return trade, nil
}

// SellAll 一次性卖出所有阶梯持仓，手续费按挂单费率扣除返佣后计算。
// 需要卖出的数量超过实际持有量时账本保持不变并返回 ErrInsufficientHoldings。
func (e *PaperExchange) SellAll(order SellOrder, cfg models.StrategyConfig) (SellResult, error) {
	if len(e.positions) == 0 {
		return SellResult{}, ErrNoPositions
	}
	if order.Price <= 0 {
		return SellResult{}, fmt.Errorf("%w: price=%f", ErrInvalidOrder, order.Price)
	}

	size := 0.0
	for _, p := range e.positions {
		size += p.EntrySize
	}
	if size > e.holdings+dust {
		return SellResult{}, fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientHoldings, size, e.holdings)
	}

	executionPrice := order.Price * (1 - cfg.SlippagePercent/100)
	proceeds := executionPrice * size
	fee := strategy.TradingFee(proceeds, cfg.MakerFeePercent, cfg.FeeRebatePercent)
	netPnL := strategy.NetPnL(e.positions, executionPrice, fee)

	now := e.now()
	e.usd += proceeds - fee
	e.holdings -= size
	if math.Abs(e.holdings) < dust {
		e.holdings = 0
	}
	e.totalFees += fee
	e.realizedPnL += netPnL

	// 盈利的一部分转入金库，不再参与后续仓位计算
	vaultTransfer := 0.0
	if netPnL > 0 && order.VaultPercent > 0 {
		vaultTransfer = netPnL * order.VaultPercent / 100
		if vaultTransfer > e.usd {
			vaultTransfer = e.usd
		}
		e.usd -= vaultTransfer
		e.vault += vaultTransfer
	}

	closed := e.positions
	e.positions = nil

	trade := models.Trade{
		ID:        e.nextTradeID(now),
		CycleID:   order.CycleID,
		Type:      models.Sell,
		Price:     executionPrice,
		Size:      size,
		Fee:       fee,
		Level:     len(closed),
		PnL:       netPnL,
		Reason:    order.Reason,
		Timestamp: now,
	}
	e.trades = append(e.trades, trade)

	return SellResult{Trade: trade, Closed: closed, NetPnL: netPnL, VaultTransfer: vaultTransfer}, nil
}

// SyncHoldings 用外部对账得到的真实数量覆盖基础资产持有量
func (e *PaperExchange) SyncHoldings(actual float64) {
	if actual < dust {
		actual = 0
	}
	e.holdings = actual
}

// DiscardPositions 丢弃没有资产支撑的持仓记录（失步修复），返回被丢弃的持仓
func (e *PaperExchange) DiscardPositions() []models.Position {
	dropped := e.positions
	e.positions = nil
	return dropped
}

// Positions 返回持仓的副本
func (e *PaperExchange) Positions() []models.Position {
	return append([]models.Position(nil), e.positions...)
}

// Trades 返回成交记录的副本
func (e *PaperExchange) Trades() []models.Trade {
	return append([]models.Trade(nil), e.trades...)
}

func (e *PaperExchange) Holdings() float64 { return e.holdings }

// Allocated 返回当前持仓占用的成本
func (e *PaperExchange) Allocated() float64 {
	total := 0.0
	for _, p := range e.positions {
		total += p.Cost()
	}
	return total
}

// Equity 是仓位计算的基数: 可用USD + 持仓成本，不含金库
func (e *PaperExchange) Equity() float64 {
	return e.usd + e.Allocated()
}

func (e *PaperExchange) Balance() models.Balance {
	return models.Balance{USD: e.usd, BaseHoldings: e.holdings, Vault: e.vault}
}

// RealizedPnL 返回累计已实现净盈亏
func (e *PaperExchange) RealizedPnL() float64 { return e.realizedPnL }

// TotalFees 累计支付的手续费
func (e *PaperExchange) TotalFees() float64 { return e.totalFees }

// State 返回可持久化的账本深拷贝
func (e *PaperExchange) State() models.LedgerState {
	return models.LedgerState{
		USD:          e.usd,
		BaseHoldings: e.holdings,
		Vault:        e.vault,
		RealizedPnL:  e.realizedPnL,
		TotalFees:    e.totalFees,
		Positions:    e.Positions(),
		Trades:       e.Trades(),
		TradeSeq:     e.tradeSeq,
	}
}

// nextTradeID 由时间戳和自增序号生成紧凑且单调的ID
func (e *PaperExchange) nextTradeID(now time.Time) string {
	e.tradeSeq++
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint32(buf[8:], e.tradeSeq)
	return e.botID + "-" + base62.EncodeToString(buf[:])
}
