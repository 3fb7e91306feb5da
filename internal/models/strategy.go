package models

import (
	"encoding/json"
	"fmt"
)

// StrategyType 选择策略变体
type StrategyType string

const (
	ReverseRatio StrategyType = "reverse_ratio"
	UltraMicro   StrategyType = "ultra_micro"
	Micro        StrategyType = "micro"
	Proper       StrategyType = "proper"
)

// StrategyTypes 按固定顺序列出所有变体
var StrategyTypes = []StrategyType{ReverseRatio, UltraMicro, Micro, Proper}

// Valid 判断是否为已知的策略类型
func (t StrategyType) Valid() bool {
	switch t {
	case ReverseRatio, UltraMicro, Micro, Proper:
		return true
	}
	return false
}

// StrategyConfig 是一个Bot在创建时确定的策略参数，所有百分比字段都以百分数表示 (0.8 = 0.8%)
type StrategyConfig struct {
	InitialDropPercent  float64 `json:"initial_drop_percent"`  // 相对近期高点的首次入场跌幅
	LevelDropPercent    float64 `json:"level_drop_percent"`    // 相对上一档入场价的加仓跌幅
	RatioMultiplier     float64 `json:"ratio_multiplier"`      // 每档仓位的放大倍数
	ProfitTargetPercent float64 `json:"profit_target_percent"` // 相对首档入场价的止盈涨幅
	MaxLevels           int     `json:"max_levels"`            // 最大档位数
	LookbackPeriod      int     `json:"lookback_period"`       // 近期高点的观察窗口长度
	BasePositionPercent float64 `json:"base_position_percent"` // 第一档仓位占权益的比例
	MaxPositionPercent  float64 `json:"max_position_percent"`  // 累计仓位占权益的上限
	MakerFeePercent     float64 `json:"maker_fee_percent"`
	TakerFeePercent     float64 `json:"taker_fee_percent"`
	FeeRebatePercent    float64 `json:"fee_rebate_percent"` // 手续费返佣比例
	SlippagePercent     float64 `json:"slippage_percent"`
}

// RoundTripFeePercent 返回一次完整买卖（吃单买入、挂单卖出）扣除返佣后的手续费百分比
func (c StrategyConfig) RoundTripFeePercent() float64 {
	return (c.TakerFeePercent + c.MakerFeePercent) * (1 - c.FeeRebatePercent/100)
}

// Validate 检查参数边界，返回遇到的第一个问题
func (c StrategyConfig) Validate() error {
	if c.BasePositionPercent <= 0 || c.BasePositionPercent > c.MaxPositionPercent || c.MaxPositionPercent > 100 {
		return fmt.Errorf("%w: require 0 < base_position_percent (%g) <= max_position_percent (%g) <= 100",
			ErrInvalidConfig, c.BasePositionPercent, c.MaxPositionPercent)
	}
	if c.MaxLevels < 1 {
		return fmt.Errorf("%w: max_levels (%d) must be >= 1", ErrInvalidConfig, c.MaxLevels)
	}
	if c.LookbackPeriod < 1 {
		return fmt.Errorf("%w: lookback_period (%d) must be >= 1", ErrInvalidConfig, c.LookbackPeriod)
	}
	if c.InitialDropPercent <= 0 || c.InitialDropPercent >= 100 {
		return fmt.Errorf("%w: initial_drop_percent (%g) must be within (0,100)", ErrInvalidConfig, c.InitialDropPercent)
	}
	if c.LevelDropPercent <= 0 || c.LevelDropPercent >= 100 {
		return fmt.Errorf("%w: level_drop_percent (%g) must be within (0,100)", ErrInvalidConfig, c.LevelDropPercent)
	}
	if c.ProfitTargetPercent <= 0 {
		return fmt.Errorf("%w: profit_target_percent (%g) must be > 0", ErrInvalidConfig, c.ProfitTargetPercent)
	}
	if c.RatioMultiplier <= 0 {
		return fmt.Errorf("%w: ratio_multiplier (%g) must be > 0", ErrInvalidConfig, c.RatioMultiplier)
	}
	// 按固定顺序检查，多个字段非法时总是报告第一个
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"maker_fee_percent", c.MakerFeePercent},
		{"taker_fee_percent", c.TakerFeePercent},
		{"slippage_percent", c.SlippagePercent},
	} {
		if f.v < 0 || f.v >= 100 {
			return fmt.Errorf("%w: %s (%g) must be within [0,100)", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.FeeRebatePercent < 0 || c.FeeRebatePercent > 100 {
		return fmt.Errorf("%w: fee_rebate_percent (%g) must be within [0,100]", ErrInvalidConfig, c.FeeRebatePercent)
	}
	if c.ProfitTargetPercent <= c.RoundTripFeePercent() {
		return fmt.Errorf("%w: profit_target_percent (%g) does not cover round-trip fees (%g)",
			ErrInvalidConfig, c.ProfitTargetPercent, c.RoundTripFeePercent())
	}
	return nil
}

// StrategyParams 是策略变体的标签联合，每个变体携带自己的参数和额外约束
type StrategyParams interface {
	Type() StrategyType
	Config() StrategyConfig
	Validate() error
}

// ReverseRatioParams 越深的档位仓位越大
type ReverseRatioParams struct {
	StrategyConfig
}

func (p ReverseRatioParams) Type() StrategyType     { return ReverseRatio }
func (p ReverseRatioParams) Config() StrategyConfig { return p.StrategyConfig }

func (p ReverseRatioParams) Validate() error {
	if err := p.StrategyConfig.Validate(); err != nil {
		return err
	}
	if p.RatioMultiplier < 1 {
		return fmt.Errorf("%w: reverse_ratio requires ratio_multiplier >= 1, got %g", ErrInvalidConfig, p.RatioMultiplier)
	}
	return nil
}

// UltraMicroParams 极小波动的高频剥头皮
type UltraMicroParams struct {
	StrategyConfig
}

func (p UltraMicroParams) Type() StrategyType     { return UltraMicro }
func (p UltraMicroParams) Config() StrategyConfig { return p.StrategyConfig }

func (p UltraMicroParams) Validate() error {
	if err := p.StrategyConfig.Validate(); err != nil {
		return err
	}
	if p.ProfitTargetPercent > 1 || p.LevelDropPercent > 0.5 {
		return fmt.Errorf("%w: ultra_micro requires profit_target_percent <= 1 and level_drop_percent <= 0.5", ErrInvalidConfig)
	}
	return nil
}

// MicroParams 小幅波动剥头皮
type MicroParams struct {
	StrategyConfig
}

func (p MicroParams) Type() StrategyType     { return Micro }
func (p MicroParams) Config() StrategyConfig { return p.StrategyConfig }

func (p MicroParams) Validate() error {
	if err := p.StrategyConfig.Validate(); err != nil {
		return err
	}
	if p.ProfitTargetPercent > 3 {
		return fmt.Errorf("%w: micro requires profit_target_percent <= 3, got %g", ErrInvalidConfig, p.ProfitTargetPercent)
	}
	return nil
}

// ProperParams 常规网格
type ProperParams struct {
	StrategyConfig
}

func (p ProperParams) Type() StrategyType     { return Proper }
func (p ProperParams) Config() StrategyConfig { return p.StrategyConfig }
func (p ProperParams) Validate() error        { return p.StrategyConfig.Validate() }

// DefaultConfig 返回每种变体的默认参数
func DefaultConfig(t StrategyType) (StrategyConfig, error) {
	switch t {
	case ReverseRatio:
		return StrategyConfig{
			InitialDropPercent: 1.0, LevelDropPercent: 0.8, RatioMultiplier: 1.5, ProfitTargetPercent: 2.0,
			MaxLevels: 5, LookbackPeriod: 20, BasePositionPercent: 5, MaxPositionPercent: 100,
			MakerFeePercent: 0.1, TakerFeePercent: 0.1, SlippagePercent: 0.05,
		}, nil
	case UltraMicro:
		return StrategyConfig{
			InitialDropPercent: 0.3, LevelDropPercent: 0.2, RatioMultiplier: 1.0, ProfitTargetPercent: 0.4,
			MaxLevels: 8, LookbackPeriod: 30, BasePositionPercent: 10, MaxPositionPercent: 80,
			MakerFeePercent: 0.02, TakerFeePercent: 0.05, SlippagePercent: 0.01,
		}, nil
	case Micro:
		return StrategyConfig{
			InitialDropPercent: 0.8, LevelDropPercent: 0.5, RatioMultiplier: 1.0, ProfitTargetPercent: 1.5,
			MaxLevels: 5, LookbackPeriod: 20, BasePositionPercent: 20, MaxPositionPercent: 100,
			MakerFeePercent: 0.1, TakerFeePercent: 0.1, SlippagePercent: 0.02,
		}, nil
	case Proper:
		return StrategyConfig{
			InitialDropPercent: 2.0, LevelDropPercent: 1.5, RatioMultiplier: 1.2, ProfitTargetPercent: 3.0,
			MaxLevels: 4, LookbackPeriod: 50, BasePositionPercent: 15, MaxPositionPercent: 90,
			MakerFeePercent: 0.1, TakerFeePercent: 0.1, SlippagePercent: 0.05,
		}, nil
	}
	return StrategyConfig{}, fmt.Errorf("%w: unknown strategy type %q", ErrInvalidConfig, t)
}

// NewStrategyParams 用给定参数构造对应变体并校验
func NewStrategyParams(t StrategyType, cfg StrategyConfig) (StrategyParams, error) {
	var p StrategyParams
	switch t {
	case ReverseRatio:
		p = ReverseRatioParams{cfg}
	case UltraMicro:
		p = UltraMicroParams{cfg}
	case Micro:
		p = MicroParams{cfg}
	case Proper:
		p = ProperParams{cfg}
	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", ErrInvalidConfig, t)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultStrategy 返回使用默认参数的策略
func DefaultStrategy(t StrategyType) (Strategy, error) {
	cfg, err := DefaultConfig(t)
	if err != nil {
		return Strategy{}, err
	}
	p, err := NewStrategyParams(t, cfg)
	if err != nil {
		return Strategy{}, err
	}
	return Strategy{Params: p}, nil
}

// Strategy 是可序列化的策略信封: {"type": "...", "params": {...}}
type Strategy struct {
	Params StrategyParams
}

// Type 返回变体类型，空策略返回 ""
func (s Strategy) Type() StrategyType {
	if s.Params == nil {
		return ""
	}
	return s.Params.Type()
}

// Config 返回变体携带的参数
func (s Strategy) Config() StrategyConfig {
	if s.Params == nil {
		return StrategyConfig{}
	}
	return s.Params.Config()
}

type strategyEnvelope struct {
	Type   StrategyType    `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON 输出带类型标签的信封
func (s Strategy) MarshalJSON() ([]byte, error) {
	if s.Params == nil {
		return []byte("null"), nil
	}
	params, err := json.Marshal(s.Params.Config())
	if err != nil {
		return nil, err
	}
	return json.Marshal(strategyEnvelope{Type: s.Params.Type(), Params: params})
}

// UnmarshalJSON 根据类型标签选择变体；未提供的参数取该变体的默认值
func (s *Strategy) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var env strategyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg, err := DefaultConfig(env.Type)
	if err != nil {
		return err
	}
	if len(env.Params) > 0 && string(env.Params) != "null" {
		if err := json.Unmarshal(env.Params, &cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	p, err := NewStrategyParams(env.Type, cfg)
	if err != nil {
		return err
	}
	s.Params = p
	return nil
}
