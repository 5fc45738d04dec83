package technical

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/perpctl/pkg/models"
)

const epsilon = 1e-10

// SMA рассчитывает простую скользящую среднюю хвоста ряда.
// При нехватке данных возвращает среднее доступных значений, не NaN.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period > len(values) {
		period = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA рассчитывает экспоненциальную скользящую среднюю.
// Затравка — простое среднее первых period значений, далее рекуррента
// ema = (price - ema_prev) * k + ema_prev, k = 2/(period+1).
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) <= period {
		return SMA(values, period)
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
	}
	return ema
}

// emaSeries возвращает ряд EMA той же длины, что и вход.
// Значения до затравки заполняются накопленным средним.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	sum := 0.0
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		k := 2.0 / float64(period+1)
		out[i] = (v-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI рассчитывает индекс относительной силы.
// При истории короче period+1 возвращает нейтральные 50.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	rs := avgGain / (avgLoss + epsilon)
	return 100 - 100/(1+rs)
}

// MACD рассчитывает MACD: линия = EMA(fast) - EMA(slow),
// сигнальная линия = EMA(signal) по ряду MACD.
// При истории короче slow возвращает нулевую структуру.
func MACD(closes []float64, fast, slow, signal int) models.MACDResult {
	if len(closes) < slow {
		return models.MACDResult{}
	}

	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)

	macdSeries := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdSeries = append(macdSeries, fastSeries[i]-slowSeries[i])
	}

	line := macdSeries[len(macdSeries)-1]
	signalLine := EMA(macdSeries, signal)

	return models.MACDResult{
		Line:      line,
		Signal:    signalLine,
		Histogram: line - signalLine,
	}
}

// ATR рассчитывает средний истинный диапазон хвоста ряда свечей
func ATR(candles []models.Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}
	if period > len(candles)-1 {
		period = len(candles) - 1
	}

	trSum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}

// Bollinger рассчитывает полосы Боллинджера и относительную ширину полосы
func Bollinger(closes []float64, period int, k float64) models.BollingerResult {
	if len(closes) == 0 {
		return models.BollingerResult{}
	}
	if period > len(closes) {
		period = len(closes)
	}

	middle := SMA(closes, period)

	variance := 0.0
	for _, v := range closes[len(closes)-period:] {
		diff := v - middle
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(period))

	upper := middle + k*stddev
	lower := middle - k*stddev

	bandwidth := 0.0
	if middle > epsilon {
		bandwidth = (upper - lower) / middle * 100
	}

	return models.BollingerResult{
		Upper:     upper,
		Middle:    middle,
		Lower:     lower,
		Bandwidth: bandwidth,
	}
}

// ADX оценивает силу тренда по направленному движению, диапазон [0,100].
// Порог 25 считается сильным трендом.
func ADX(candles []models.Candle, period int) float64 {
	// talib стабилизируется только после двух периодов
	if len(candles) < 2*period+1 {
		return 0
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	adx := talib.Adx(highs, lows, closes, period)
	last := adx[len(adx)-1]
	if math.IsNaN(last) || last < 0 {
		return 0
	}
	if last > 100 {
		return 100
	}
	return last
}

// Closes извлекает ряд цен закрытия из свечей
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
