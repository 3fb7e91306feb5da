package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig 描述成交流连接参数
type StreamConfig struct {
	WSBaseURL      string
	Symbol         string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReconnectDelay time.Duration
}

// TradeStream 订阅币安 <symbol>@aggTrade 成交流，断线后自动重连
type TradeStream struct {
	cfg    StreamConfig
	url    string
	dialer *websocket.Dialer
	out    func(Tick)
	logger *zap.Logger
}

// aggTradeEvent 只解析需要的字段
type aggTradeEvent struct {
	Symbol    string      `json:"s"`
	Price     json.Number `json:"p"`
	TradeTime int64       `json:"T"`
}

// NewTradeStream 创建成交流，每笔成交通过 out 回调交付
func NewTradeStream(cfg StreamConfig, out func(Tick), logger *zap.Logger) *TradeStream {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = (cfg.PongTimeout * 9) / 10 // 必须小于 pongWait
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeStream{
		cfg:    cfg,
		url:    fmt.Sprintf("%s/ws/%s@aggTrade", strings.TrimRight(cfg.WSBaseURL, "/"), strings.ToLower(cfg.Symbol)),
		dialer: websocket.DefaultDialer,
		out:    out,
		logger: logger.With(zap.String("component", "trade_stream"), zap.String("symbol", cfg.Symbol)),
	}
}

// URL 返回实际连接的地址
func (s *TradeStream) URL() string { return s.url }

// Run 是一个守护循环，负责维持WebSocket连接和重连，直到ctx结束
func (s *TradeStream) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("WebSocket连接失败，稍后重试", zap.Error(err), zap.Duration("delay", s.cfg.ReconnectDelay))
		} else {
			s.logger.Info("WebSocket连接成功", zap.String("url", s.url))
			// readLoop 会阻塞直到连接断开
			if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Warn("WebSocket连接已断开，准备重连", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("WebSocket循环已停止")
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// readLoop 处理一个已建立的连接，并维持心跳
func (s *TradeStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pongWait := s.cfg.PongTimeout
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		pingTicker := time.NewTicker(s.cfg.PingInterval)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					s.logger.Debug("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 优雅关闭，ReadMessage 随后返回错误
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}
		tick, ok := s.parse(message)
		if !ok {
			continue
		}
		s.out(tick)
	}
}

func (s *TradeStream) parse(message []byte) (Tick, bool) {
	var ev aggTradeEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.logger.Debug("解析成交信息失败", zap.Error(err))
		return Tick{}, false
	}
	price, err := ev.Price.Float64()
	if err != nil || price <= 0 {
		s.logger.Debug("忽略无效价格", zap.String("price", ev.Price.String()))
		return Tick{}, false
	}
	symbol := ev.Symbol
	if symbol == "" {
		symbol = s.cfg.Symbol
	}
	ts := time.Now()
	if ev.TradeTime > 0 {
		ts = time.UnixMilli(ev.TradeTime)
	}
	return Tick{Symbol: strings.ToUpper(symbol), Price: price, Time: ts}, true
}
