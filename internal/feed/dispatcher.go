package feed

import (
	"context"
	"grid-scalper-bot-go/internal/models"
	"time"

	"go.uber.org/zap"
)

// Sink 接收行情，BotManager 实现了这个接口
type Sink interface {
	UpdateRealtimePrice(price float64, pair string)
	UpdateCandle(c models.Candle)
}

// Tick 是一笔成交价格
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

type message struct {
	tick   *Tick
	candle *models.Candle
}

// Dispatcher 用单个goroutine按到达顺序把成交和K线交给Sink，
// 保证同一个Bot看到的行情顺序与交易所推送顺序一致。
type Dispatcher struct {
	sink   Sink
	in     chan message
	done   chan struct{}
	logger *zap.Logger
}

// NewDispatcher 创建分发器，buffer 是排队上限
func NewDispatcher(sink Sink, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:   sink,
		in:     make(chan message, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// PublishTick 排队一笔成交。分发器停止后直接丢弃。
func (d *Dispatcher) PublishTick(t Tick) {
	d.publish(message{tick: &t})
}

// PublishCandle 排队一根已收盘K线
func (d *Dispatcher) PublishCandle(c models.Candle) {
	d.publish(message{candle: &c})
}

func (d *Dispatcher) publish(m message) {
	select {
	case d.in <- m:
	case <-d.done:
	}
}

// Run 阻塞直到ctx结束，退出前把已排队的行情全部交付
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case m := <-d.in:
			d.deliver(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-d.in:
					d.deliver(m)
				default:
					d.logger.Info("Feed dispatcher stopped")
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m message) {
	switch {
	case m.tick != nil:
		d.sink.UpdateRealtimePrice(m.tick.Price, m.tick.Symbol)
	case m.candle != nil:
		d.sink.UpdateCandle(*m.candle)
	}
}
