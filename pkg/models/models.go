package models

import (
	"time"
)

// Candle представляет свечу базового разрешения
type Candle struct {
	Symbol    string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Body возвращает абсолютный размер тела свечи
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range возвращает полный диапазон свечи
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// Bullish сообщает, закрылась ли свеча выше открытия
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// Stance желаемое направленное состояние
type Stance string

const (
	StanceLong  Stance = "long"
	StanceShort Stance = "short"
	StanceFlat  Stance = "flat"
)

// Signal направленный сигнал с градацией силы
type Signal string

const (
	SignalStrongLong  Signal = "strong_long"
	SignalLong        Signal = "long"
	SignalNeutral     Signal = "neutral"
	SignalShort       Signal = "short"
	SignalStrongShort Signal = "strong_short"
)

// Bullish сообщает, является ли сигнал длинным
func (s Signal) Bullish() bool {
	return s == SignalLong || s == SignalStrongLong
}

// Bearish сообщает, является ли сигнал коротким
func (s Signal) Bearish() bool {
	return s == SignalShort || s == SignalStrongShort
}

// Stance переводит сигнал в желаемое состояние позиции
func (s Signal) Stance() Stance {
	switch {
	case s.Bullish():
		return StanceLong
	case s.Bearish():
		return StanceShort
	default:
		return StanceFlat
	}
}

// Trend классификация тренда таймфрейма
type Trend string

const (
	TrendStrongUp   Trend = "strong_uptrend"
	TrendUp         Trend = "uptrend"
	TrendRanging    Trend = "ranging"
	TrendDown       Trend = "downtrend"
	TrendStrongDown Trend = "strong_downtrend"
)

// Up сообщает, является ли тренд восходящим
func (t Trend) Up() bool {
	return t == TrendUp || t == TrendStrongUp
}

// Down сообщает, является ли тренд нисходящим
func (t Trend) Down() bool {
	return t == TrendDown || t == TrendStrongDown
}

// Regime режим рынка
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeChoppy   Regime = "choppy"
)

// MACDResult значения индикатора MACD
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// BollingerResult значения полос Боллинджера
type BollingerResult struct {
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64
}

// TimeframeAnalysis результат технического анализа одного таймфрейма.
// Неизменяемый снимок для данного набора свечей.
type TimeframeAnalysis struct {
	Timeframe  string
	Trend      Trend
	RSI        float64
	MACD       MACDResult
	ADX        float64
	EMA20      float64
	EMA50      float64
	EMA200     float64
	Bollinger  BollingerResult
	ATR        float64
	Signal     Signal
	Conviction float64
	Readiness  float64
}

// ConfluenceSignal итоговый сигнал конфлюэнса
type ConfluenceSignal struct {
	Symbol        string
	PrimarySignal Signal
	Conviction    float64
	TrendAligned  bool
	Regime        Regime
	Price         float64
	Timestamp     time.Time
	Components    map[string]float64
}

// PositionSide сторона позиции
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// ActivePosition локально отслеживаемая позиция.
// Не более одной на рынок; размер всегда положительный.
type ActivePosition struct {
	Symbol     string
	Side       PositionSide
	EntryPrice float64
	SizeUSD    float64
	Leverage   int
	OpenedAt   time.Time
}

// SignedExposure возвращает подписанный номинал позиции
func (p *ActivePosition) SignedExposure() float64 {
	if p == nil {
		return 0
	}
	if p.Side == SideShort {
		return -p.SizeUSD
	}
	return p.SizeUSD
}

// RemotePosition позиция по данным биржи
type RemotePosition struct {
	Symbol        string
	Side          PositionSide
	EntryPrice    float64
	MarkPrice     float64
	SizeUSD       float64
	UnrealizedPnl float64
	Leverage      int
}

// PositionSummary авторитетное состояние счета на бирже
type PositionSummary struct {
	Positions          []RemotePosition
	TotalEquity        float64
	TotalCollateral    float64
	FreeCollateral     float64
	TotalUnrealizedPnl float64
	MarginUsagePct     float64
	TotalPositionUSD   float64
	Timestamp          time.Time
}

// Position возвращает позицию по символу, nil если её нет
func (s *PositionSummary) Position(symbol string) *RemotePosition {
	for i := range s.Positions {
		if s.Positions[i].Symbol == symbol && s.Positions[i].SizeUSD > 0 {
			return &s.Positions[i]
		}
	}
	return nil
}

// TradingMetricsSnapshot снимок торговых метрик для телеметрии
type TradingMetricsSnapshot struct {
	Strategy       string
	TotalTrades    int
	FilteredTrades int
	TotalVolume    float64
	TotalFees      float64
	AvgHoldTimeMs  int64
	WinRate        float64
	AvgWinSize     float64
	AvgLossSize    float64
	FeeSavings     float64
}

// ControllerSnapshot снимок состояния контроллера для презентационного слоя
type ControllerSnapshot struct {
	Stance    Stance
	Position  *ActivePosition
	Summary   PositionSummary
	Signal    ConfluenceSignal
	Metrics   TradingMetricsSnapshot
	Paused    bool
	Timestamp time.Time
}
