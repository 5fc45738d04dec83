package technical

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/models"
)

func testConfig() config.TechnicalConfig {
	return config.TechnicalConfig{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		ATRPeriod:  14,
		ADXPeriod:  14,
	}
}

// trendCandles строит серию: плоский участок, затем рост с откатами,
// удерживающий RSI в рабочей зоне
func trendCandles(up bool) []models.Candle {
	dir := 1.0
	if !up {
		dir = -1.0
	}

	closes := make([]float64, 0, 60)
	price := 100.0
	for i := 0; i < 40; i++ {
		closes = append(closes, price)
	}
	for i := 0; i < 10; i++ {
		price += dir * 1.5
		closes = append(closes, price)
		price -= dir * 1.0
		closes = append(closes, price)
	}

	candles := make([]models.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		high := c
		low := c
		if prev > high {
			high = prev
		}
		if prev < low {
			low = prev
		}
		candles[i] = models.Candle{Open: prev, High: high + 0.1, Low: low - 0.1, Close: c}
		prev = c
	}
	return candles
}

func TestAnalyzeEmptySeries(t *testing.T) {
	analyzer := NewAnalyzer(testConfig())

	result := analyzer.Analyze("5m", nil, 0)
	assert.Equal(t, models.SignalNeutral, result.Signal)
	assert.Equal(t, models.TrendRanging, result.Trend)
	assert.Equal(t, 50.0, result.RSI)
	assert.InDelta(t, 0.2, result.Conviction, 1e-9)
}

func TestAnalyzeUptrend(t *testing.T) {
	analyzer := NewAnalyzer(testConfig())

	result := analyzer.Analyze("5m", trendCandles(true), 1.0)
	assert.True(t, result.Trend.Up(), "ожидался восходящий тренд, получен %s", result.Trend)
	assert.True(t, result.Signal.Bullish(), "ожидался длинный сигнал, получен %s", result.Signal)
	assert.GreaterOrEqual(t, result.Conviction, 0.5)
	assert.LessOrEqual(t, result.Conviction, 0.95)
	assert.Greater(t, result.RSI, 45.0)
	assert.Less(t, result.RSI, 70.0)
}

func TestAnalyzeDowntrend(t *testing.T) {
	analyzer := NewAnalyzer(testConfig())

	result := analyzer.Analyze("5m", trendCandles(false), 1.0)
	assert.True(t, result.Trend.Down(), "ожидался нисходящий тренд, получен %s", result.Trend)
	assert.True(t, result.Signal.Bearish(), "ожидался короткий сигнал, получен %s", result.Signal)
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, models.TrendStrongUp, classifyTrend(105, 103, 101, 30))
	assert.Equal(t, models.TrendUp, classifyTrend(105, 103, 101, 10))
	assert.Equal(t, models.TrendStrongDown, classifyTrend(95, 97, 99, 30))
	assert.Equal(t, models.TrendDown, classifyTrend(95, 97, 99, 10))
	assert.Equal(t, models.TrendRanging, classifyTrend(100, 103, 101, 30))
}

func TestClassifySignalBaselines(t *testing.T) {
	strong := models.TimeframeAnalysis{
		Trend: models.TrendStrongUp,
		RSI:   60,
		MACD:  models.MACDResult{Histogram: 0.5},
		ADX:   40,
	}
	signal, conviction := classifySignal(strong)
	assert.Equal(t, models.SignalStrongLong, signal)
	assert.InDelta(t, 0.84, conviction, 1e-9)

	plain := strong
	plain.Trend = models.TrendUp
	signal, conviction = classifySignal(plain)
	assert.Equal(t, models.SignalLong, signal)
	assert.InDelta(t, 0.54, conviction, 1e-9)

	neutral := models.TimeframeAnalysis{Trend: models.TrendRanging, RSI: 50}
	signal, conviction = classifySignal(neutral)
	assert.Equal(t, models.SignalNeutral, signal)
	assert.InDelta(t, 0.2, conviction, 1e-9)
}
