package technical

import (
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/models"
)

// Порог ADX, за которым тренд считается сильным
const strongTrendADX = 25.0

// Analyzer считает технические индикаторы одного таймфрейма
type Analyzer struct {
	config config.TechnicalConfig
}

// NewAnalyzer создает новый технический анализатор
func NewAnalyzer(cfg config.TechnicalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze строит неизменяемый снимок анализа по свечной серии таймфрейма
func (a *Analyzer) Analyze(timeframe string, candles []models.Candle, readiness float64) models.TimeframeAnalysis {
	result := models.TimeframeAnalysis{
		Timeframe: timeframe,
		Trend:     models.TrendRanging,
		RSI:       50,
		Signal:    models.SignalNeutral,
		Readiness: readiness,
	}
	if len(candles) == 0 {
		result.Conviction = 0.2
		return result
	}

	closes := Closes(candles)
	price := closes[len(closes)-1]

	result.RSI = RSI(closes, a.config.RSIPeriod)
	result.MACD = MACD(closes, a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal)
	result.ATR = ATR(candles, a.config.ATRPeriod)
	result.Bollinger = Bollinger(closes, a.config.BBPeriod, 2.0)
	result.ADX = ADX(candles, a.config.ADXPeriod)
	result.EMA20 = EMA(closes, 20)
	result.EMA50 = EMA(closes, 50)
	result.EMA200 = EMA(closes, 200)

	result.Trend = classifyTrend(price, result.EMA20, result.EMA50, result.ADX)
	result.Signal, result.Conviction = classifySignal(result)

	return result
}

// classifyTrend определяет тренд по порядку EMA и силе ADX
func classifyTrend(price, ema20, ema50, adx float64) models.Trend {
	switch {
	case price > ema20 && ema20 > ema50:
		if adx > strongTrendADX {
			return models.TrendStrongUp
		}
		return models.TrendUp
	case price < ema20 && ema20 < ema50:
		if adx > strongTrendADX {
			return models.TrendStrongDown
		}
		return models.TrendDown
	default:
		return models.TrendRanging
	}
}

// classifySignal сводит тренд, RSI, гистограмму MACD и порядок EMA
// в один направленный сигнал с базовой уверенностью.
// База: 0.2 нейтрально, 0.5+ направленно, 0.8+ сильно; ADX добавляет до 0.1.
func classifySignal(ta models.TimeframeAnalysis) (models.Signal, float64) {
	adxBoost := ta.ADX / 100 * 0.1

	bullish := ta.Trend.Up() && ta.MACD.Histogram > 0 && ta.RSI > 45
	bearish := ta.Trend.Down() && ta.MACD.Histogram < 0 && ta.RSI < 55

	switch {
	case bullish && ta.Trend == models.TrendStrongUp:
		return models.SignalStrongLong, clamp(0.8+adxBoost, 0, 0.95)
	case bullish:
		return models.SignalLong, clamp(0.5+adxBoost, 0, 0.7)
	case bearish && ta.Trend == models.TrendStrongDown:
		return models.SignalStrongShort, clamp(0.8+adxBoost, 0, 0.95)
	case bearish:
		return models.SignalShort, clamp(0.5+adxBoost, 0, 0.7)
	default:
		return models.SignalNeutral, 0.2
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
