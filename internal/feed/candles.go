package feed

import (
	"context"
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// KlineFetcher 拉取最近的K线，按开盘时间升序返回。
// 返回结果可以包含尚未收盘的最后一根。
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// BinanceKlines 用币安公共行情接口实现 KlineFetcher
type BinanceKlines struct {
	client *binance.Client
}

// NewBinanceKlines 创建K线客户端，公共接口不需要API Key。
// baseURL 为空时按 testnet 选择默认地址。
func NewBinanceKlines(apiKey, secretKey, baseURL string, testnet bool) *BinanceKlines {
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceKlines{client: client}
}

// FetchKlines 实现 KlineFetcher
func (b *BinanceKlines) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit). // 币安单次请求最多1000条
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下载K线数据失败: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		open, errO := strconv.ParseFloat(k.Open, 64)
		high, errH := strconv.ParseFloat(k.High, 64)
		low, errL := strconv.ParseFloat(k.Low, 64)
		closePrice, errC := strconv.ParseFloat(k.Close, 64)
		volume, errV := strconv.ParseFloat(k.Volume, 64)
		if errO != nil || errH != nil || errL != nil || errC != nil || errV != nil {
			return nil, fmt.Errorf("无法解析K线数据 open_time=%d", k.OpenTime)
		}
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return candles, nil
}

// PollerConfig 控制K线预加载与轮询
type PollerConfig struct {
	Symbol       string
	Interval     string
	SeedLimit    int
	PollInterval time.Duration
}

// pollLimit 是每次轮询拉取的条数，足够覆盖一两次轮询失败
const pollLimit = 5

// CandlePoller 启动时用最近的已收盘K线预热回看窗口，
// 之后定时轮询，只转发新收盘的K线。
type CandlePoller struct {
	fetcher   KlineFetcher
	cfg       PollerConfig
	out       func(models.Candle)
	logger    *zap.Logger
	now       func() time.Time
	lastClose time.Time
}

// NewCandlePoller 创建轮询器
func NewCandlePoller(fetcher KlineFetcher, cfg PollerConfig, out func(models.Candle), logger *zap.Logger) *CandlePoller {
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.SeedLimit <= 0 {
		cfg.SeedLimit = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandlePoller{
		fetcher: fetcher,
		cfg:     cfg,
		out:     out,
		logger:  logger.With(zap.String("component", "candle_poller"), zap.String("symbol", cfg.Symbol)),
		now:     time.Now,
	}
}

// Seed 预加载最近的已收盘K线，返回转发的条数
func (p *CandlePoller) Seed(ctx context.Context) (int, error) {
	// 多取一根，最后一根通常还没收盘
	return p.fetchAndForward(ctx, p.cfg.SeedLimit+1)
}

// Poll 拉取一次并转发新收盘的K线
func (p *CandlePoller) Poll(ctx context.Context) (int, error) {
	return p.fetchAndForward(ctx, pollLimit)
}

// Run 预热后按间隔轮询，直到ctx结束。拉取失败只记录日志，Bot保持原状态。
func (p *CandlePoller) Run(ctx context.Context) error {
	if n, err := p.Seed(ctx); err != nil {
		p.logger.Warn("K线预加载失败", zap.Error(err))
	} else {
		p.logger.Info("K线预加载完成", zap.Int("candles", n))
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("K线轮询失败", zap.Error(err))
			}
		}
	}
}

func (p *CandlePoller) fetchAndForward(ctx context.Context, limit int) (int, error) {
	candles, err := p.fetcher.FetchKlines(ctx, p.cfg.Symbol, p.cfg.Interval, limit)
	if err != nil {
		return 0, err
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].CloseTime.Before(candles[j].CloseTime) })

	now := p.now()
	forwarded := 0
	for _, c := range candles {
		if c.CloseTime.After(now) {
			continue // 尚未收盘
		}
		if !c.CloseTime.After(p.lastClose) {
			continue // 已经转发过
		}
		if c.Symbol == "" {
			c.Symbol = p.cfg.Symbol
		}
		p.out(c)
		p.lastClose = c.CloseTime
		forwarded++
	}
	return forwarded, nil
}
