package regime

import (
	"math"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/models"
)

const (
	trendingDirectional = 0.6
	trendingBodyToRange = 0.15
	rangingBodyMultiple = 3.0
	rangingNoiseRatio   = 0.25
)

// Detector классифицирует режим рынка по последней половине окна свечей.
// Чистая функция от свечей, состояния не хранит.
type Detector struct {
	config config.RegimeConfig
}

// NewDetector создает детектор режима
func NewDetector(cfg config.RegimeConfig) *Detector {
	return &Detector{
		config: cfg,
	}
}

// Detect возвращает режим рынка для ряда свечей.
// При нехватке данных считаем рынок трендовым, пока нет свидетельств обратного.
func (d *Detector) Detect(candles []models.Candle) models.Regime {
	window := candles[len(candles)/2:]
	if len(window) < d.config.MinSamples {
		return models.RegimeTrending
	}

	directional := directionalStrength(window)
	avgBody, avgRange, priceRange := bodyStats(window)

	bodyToRange := 0.0
	if priceRange > 0 {
		bodyToRange = avgBody / priceRange
	}
	noise := 0.0
	if avgRange > 0 {
		noise = avgBody / avgRange
	}

	switch {
	case directional >= trendingDirectional && bodyToRange >= trendingBodyToRange:
		return models.RegimeTrending
	case priceRange <= rangingBodyMultiple*avgBody || noise < rangingNoiseRatio:
		return models.RegimeRanging
	default:
		return models.RegimeChoppy
	}
}

// directionalStrength возвращает долю последовательных дельт закрытия,
// разделяющих доминирующий знак
func directionalStrength(candles []models.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	up, down := 0, 0
	for i := 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		switch {
		case delta > 0:
			up++
		case delta < 0:
			down++
		}
	}

	total := len(candles) - 1
	return float64(maxInt(up, down)) / float64(total)
}

// bodyStats возвращает средний размер тела, средний диапазон свечи
// и полный ценовой диапазон окна
func bodyStats(candles []models.Candle) (avgBody, avgRange, priceRange float64) {
	high := candles[0].High
	low := candles[0].Low

	var bodySum, rangeSum float64
	for _, c := range candles {
		bodySum += math.Abs(c.Close - c.Open)
		rangeSum += c.Range()
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}

	n := float64(len(candles))
	return bodySum / n, rangeSum / n, high - low
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
