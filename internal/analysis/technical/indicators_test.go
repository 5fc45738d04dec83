package technical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/perpctl/pkg/models"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 3.0, SMA([]float64{1, 2, 3, 4, 5}, 5), 1e-9)
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)

	// При нехватке данных — среднее доступных, не NaN
	assert.InDelta(t, 4.0, SMA([]float64{2, 4, 6}, 5), 1e-9)
	assert.Equal(t, 0.0, SMA(nil, 14))
}

func TestEMA(t *testing.T) {
	// Затравка SMA(1,2,3)=2, k=0.5: (4-2)*0.5+2=3, (5-3)*0.5+3=4
	assert.InDelta(t, 4.0, EMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)

	// История короче периода вырождается в SMA
	assert.InDelta(t, 2.0, EMA([]float64{1, 2, 3}, 5), 1e-9)
	assert.Equal(t, 0.0, EMA(nil, 20))
}

func TestRSINeutralFallback(t *testing.T) {
	// История короче period+1 дает нейтральные 50
	closes := []float64{100, 101, 102}
	assert.Equal(t, 50.0, RSI(closes, 14))
}

func TestRSIDirectional(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	// Монотонный рост упирается в 100, падение в 0
	assert.InDelta(t, 100.0, RSI(up, 14), 0.01)
	assert.InDelta(t, 0.0, RSI(down, 14), 0.01)

	// Чередование +1.5/-1: rs=1.5, RSI=60
	mixed := []float64{100}
	for i := 0; i < 14; i += 2 {
		mixed = append(mixed, mixed[len(mixed)-1]+1.5)
		mixed = append(mixed, mixed[len(mixed)-1]-1)
	}
	assert.InDelta(t, 60.0, RSI(mixed, 14), 0.01)
}

func TestMACDShortHistory(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	// Короче slow — нулевая структура
	result := MACD(closes, 12, 26, 9)
	assert.Equal(t, models.MACDResult{}, result)
}

func TestMACDTrend(t *testing.T) {
	// Плоский участок, затем устойчивый рост: линия и гистограмма положительны
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
		if i >= 40 {
			closes[i] = 100 + float64(i-40)
		}
	}

	result := MACD(closes, 12, 26, 9)
	assert.Greater(t, result.Line, 0.0)
	assert.Greater(t, result.Histogram, 0.0)
	assert.InDelta(t, result.Line-result.Signal, result.Histogram, 1e-9)
}

func TestATR(t *testing.T) {
	candles := []models.Candle{
		{Open: 100, High: 102, Low: 99, Close: 101},
		{Open: 101, High: 103, Low: 100, Close: 102},
		{Open: 102, High: 104, Low: 101, Close: 103},
	}

	// TR каждой свечи = high-low = 3
	assert.InDelta(t, 3.0, ATR(candles, 2), 1e-9)
	assert.Equal(t, 0.0, ATR(candles[:1], 14))
}

func TestBollinger(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100}
	result := Bollinger(flat, 5, 2)
	assert.InDelta(t, 100.0, result.Middle, 1e-9)
	assert.InDelta(t, 100.0, result.Upper, 1e-9)
	assert.InDelta(t, 100.0, result.Lower, 1e-9)
	assert.InDelta(t, 0.0, result.Bandwidth, 1e-9)

	spread := []float64{98, 102, 98, 102, 98, 102}
	result = Bollinger(spread, 6, 2)
	assert.Greater(t, result.Upper, result.Middle)
	assert.Less(t, result.Lower, result.Middle)
	assert.Greater(t, result.Bandwidth, 0.0)
}

func TestADXBounds(t *testing.T) {
	// Мало данных — ноль, не паника
	short := []models.Candle{
		{High: 101, Low: 99, Close: 100},
		{High: 102, Low: 100, Close: 101},
	}
	assert.Equal(t, 0.0, ADX(short, 14))

	// Устойчивый тренд дает значение в допустимом диапазоне
	candles := make([]models.Candle, 60)
	for i := range candles {
		base := 100 + float64(i)
		candles[i] = models.Candle{Open: base, High: base + 1.5, Low: base - 0.5, Close: base + 1}
	}
	adx := ADX(candles, 14)
	require.GreaterOrEqual(t, adx, 0.0)
	require.LessOrEqual(t, adx, 100.0)
	assert.Greater(t, adx, 25.0)
}

func TestCloses(t *testing.T) {
	candles := []models.Candle{{Close: 1}, {Close: 2}, {Close: 3}}
	assert.Equal(t, []float64{1, 2, 3}, Closes(candles))
}
