package reporter

import (
	"fmt"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/models"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储单个Bot的绩效指标
type Metrics struct {
	InitialBalance   float64
	MarkedValue      float64 // 现金 + 持仓市值 + 金库
	TotalProfit      float64
	ProfitPercentage float64
	Buys             int
	Exits            int
	WinningExits     int
	LosingExits      int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64 // 已实现权益曲线的最大回撤(%)
	RealizedPnL      float64
	TotalFees        float64
	Vault            float64
}

// CalculateMetrics 根据状态快照计算绩效指标
func CalculateMetrics(s bot.StatusSnapshot, initialBalance float64) Metrics {
	m := Metrics{
		InitialBalance: initialBalance,
		RealizedPnL:    s.RealizedPnL,
		TotalFees:      s.TotalFees,
		Vault:          s.Balance.Vault,
	}

	var totalProfit, totalLoss float64
	for _, trade := range s.Trades {
		if trade.Type == models.Buy {
			m.Buys++
			continue
		}
		m.Exits++
		if trade.PnL > 0 {
			m.WinningExits++
			totalProfit += trade.PnL
		} else {
			m.LosingExits++
			totalLoss += trade.PnL
		}
	}

	if m.Exits > 0 {
		m.WinRate = float64(m.WinningExits) / float64(m.Exits) * 100
	}
	if m.LosingExits > 0 && m.WinningExits > 0 {
		avgWin := totalProfit / float64(m.WinningExits)
		avgLoss := math.Abs(totalLoss / float64(m.LosingExits))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.MarkedValue = s.Balance.USD + s.Balance.BaseHoldings*s.LastPrice + s.Balance.Vault
	m.TotalProfit = m.MarkedValue - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(realizedEquityCurve(initialBalance, s.Trades)) * 100
	return m
}

// realizedEquityCurve 初始资金加上每次平仓后的累计净盈亏
func realizedEquityCurve(initial float64, trades []models.Trade) []float64 {
	curve := []float64{initial}
	equity := initial
	for _, t := range trades {
		if t.Type != models.Sell {
			continue
		}
		equity += t.PnL
		curve = append(curve, equity)
	}
	return curve
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// RenderStatus 把所有Bot的状态渲染成一张表，活动Bot以 * 标记
func RenderStatus(w io.Writer, snaps []bot.StatusSnapshot, activeID string, initialBalance float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Bots")
	t.AppendHeader(table.Row{"", "ID", "Name", "Strategy", "Status", "Level", "Last", "USD", "Holdings", "Vault", "Exits", "Win %", "Realized", "Fees", "Max DD %", "Desync"})

	var totalRealized, totalFees float64
	for _, s := range snaps {
		m := CalculateMetrics(s, initialBalance)
		marker := ""
		if s.BotID == activeID {
			marker = "*"
		}
		desync := ""
		if s.DesyncSuspected {
			desync = "!"
		}
		t.AppendRow(table.Row{
			marker,
			s.BotID,
			s.BotName,
			s.StrategyType,
			s.Status,
			fmt.Sprintf("%d/%d", s.CurrentLevel, s.Config.MaxLevels),
			fmt.Sprintf("%.4f", s.LastPrice),
			fmt.Sprintf("%.2f", s.Balance.USD),
			fmt.Sprintf("%.6f", s.Balance.BaseHoldings),
			fmt.Sprintf("%.2f", s.Balance.Vault),
			m.Exits,
			fmt.Sprintf("%.1f", m.WinRate),
			fmt.Sprintf("%.4f", m.RealizedPnL),
			fmt.Sprintf("%.4f", m.TotalFees),
			fmt.Sprintf("%.2f", m.MaxDrawdown),
			desync,
		})
		totalRealized += m.RealizedPnL
		totalFees += m.TotalFees
	}

	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", "", "", "Total", fmt.Sprintf("%.4f", totalRealized), fmt.Sprintf("%.4f", totalFees), "", ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 13, Align: text.AlignRight},
		{Number: 14, Align: text.AlignRight},
	})
	t.Render()
}
