package confluence

import (
	"math"

	"github.com/skalibog/perpctl/internal/analysis/technical"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/market"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

const (
	convictionCap      = 0.95
	srBoost            = 1.15
	misalignedDiscount = 0.6
	strongTrendADX     = 25.0
)

// Analyzer реализует медленный мультитаймфреймовый скоринг конфлюэнса
type Analyzer struct {
	config  config.ConfluenceConfig
	windows []config.TimeframeSpec
	tech    *technical.Analyzer
}

// Result итог скоринга: первичный сигнал и уверенность
type Result struct {
	Signal       models.Signal
	Conviction   float64
	TrendAligned bool
	Ready        int
	BullishMass  float64
	BearishMass  float64
	Analyses     []models.TimeframeAnalysis
}

// NewAnalyzer создает анализатор конфлюэнса
func NewAnalyzer(cfg config.ConfluenceConfig, windows []config.TimeframeSpec, tech *technical.Analyzer) *Analyzer {
	return &Analyzer{
		config:  cfg,
		windows: windows,
		tech:    tech,
	}
}

// Analyze прогоняет технический анализ по всем таймфреймам и сводит
// их сигналы в один. Неготовые окна занижаются, а не отбрасываются.
func (a *Analyzer) Analyze(agg *market.Aggregator) (Result, error) {
	result := Result{
		Signal:     models.SignalNeutral,
		Conviction: 0.2,
	}

	analyses := make([]models.TimeframeAnalysis, 0, len(a.windows))
	for _, w := range a.windows {
		series, err := agg.Series(w.Name)
		if err != nil {
			return result, err
		}
		ta := a.tech.Analyze(w.Name, series, agg.Readiness(w.Name))
		analyses = append(analyses, ta)
	}
	result.Analyses = analyses

	var (
		bullishCount, bearishCount int
		strongBull, strongBear     int
		bullMass, bearMass         float64
		totalWeight                float64
		convictionSum              float64
		strongADX                  int
	)

	for i, ta := range analyses {
		// Эффективный вес занижен готовностью окна
		weight := a.windows[i].Weight * math.Max(ta.Readiness, 0)
		totalWeight += weight
		convictionSum += ta.Conviction * weight

		if ta.Readiness >= 0.999 {
			result.Ready++
		}
		if ta.ADX > strongTrendADX {
			strongADX++
		}

		switch {
		case ta.Signal.Bullish():
			bullishCount++
			bullMass += weight
			if ta.Signal == models.SignalStrongLong {
				strongBull++
			}
		case ta.Signal.Bearish():
			bearishCount++
			bearMass += weight
			if ta.Signal == models.SignalStrongShort {
				strongBear++
			}
		}
	}

	if totalWeight <= 0 {
		return result, nil
	}
	result.BullishMass = bullMass / totalWeight
	result.BearishMass = bearMass / totalWeight

	result.TrendAligned = horizonsAligned(analyses)

	direction := models.SignalNeutral
	switch {
	case bullishCount >= a.config.MinAgreeing && result.BullishMass > a.config.MassThreshold:
		direction = models.SignalLong
	case bearishCount >= a.config.MinAgreeing && result.BearishMass > a.config.MassThreshold:
		direction = models.SignalShort
	}

	// Исключение перекупленности/перепроданности
	if direction == models.SignalLong && anyRSIAbove(analyses, a.config.OverboughtRSI) {
		logger.Debug("Конфлюэнс: лонг отклонен по перекупленности RSI")
		direction = models.SignalNeutral
	}
	if direction == models.SignalShort && anyRSIBelow(analyses, a.config.OversoldRSI) {
		logger.Debug("Конфлюэнс: шорт отклонен по перепроданности RSI")
		direction = models.SignalNeutral
	}

	// Сильный вариант требует двух сильных таймфреймов, выравнивания
	// трендов и большинства сильных ADX
	majority := len(analyses)/2 + 1
	if direction == models.SignalLong && strongBull >= 2 && result.TrendAligned && strongADX >= majority {
		direction = models.SignalStrongLong
	}
	if direction == models.SignalShort && strongBear >= 2 && result.TrendAligned && strongADX >= majority {
		direction = models.SignalStrongShort
	}

	conviction := math.Min(convictionSum/totalWeight, convictionCap)

	if direction != models.SignalNeutral {
		if nearSupportResistance(agg, a.config.SRProximityPct) {
			conviction = math.Min(conviction*srBoost, 1.0)
		}
		if !result.TrendAligned {
			conviction *= misalignedDiscount
		}
	}

	// Ниже минимума вызывающей стороны сигнал принудительно нейтрален
	if direction != models.SignalNeutral && conviction < a.config.MinConviction {
		logger.Debug("Конфлюэнс: уверенность ниже минимума, сигнал нейтрализован",
			zap.Float64("conviction", conviction),
			zap.Float64("min", a.config.MinConviction))
		direction = models.SignalNeutral
		conviction /= 2
	}

	result.Signal = direction
	result.Conviction = conviction
	return result, nil
}

// horizonsAligned проверяет согласие трендов короткого, среднего и
// длинного горизонтов (первая, средняя и последняя трети окон)
func horizonsAligned(analyses []models.TimeframeAnalysis) bool {
	if len(analyses) < 3 {
		return false
	}
	third := len(analyses) / 3
	short := horizonDirection(analyses[:third])
	medium := horizonDirection(analyses[third : 2*third])
	long := horizonDirection(analyses[2*third:])
	if short == 0 || medium == 0 || long == 0 {
		return false
	}
	return short == medium && medium == long
}

// horizonDirection возвращает +1/-1 при едином направлении группы, иначе 0
func horizonDirection(analyses []models.TimeframeAnalysis) int {
	up, down := 0, 0
	for _, ta := range analyses {
		switch {
		case ta.Trend.Up():
			up++
		case ta.Trend.Down():
			down++
		}
	}
	switch {
	case up > 0 && down == 0:
		return 1
	case down > 0 && up == 0:
		return -1
	default:
		return 0
	}
}

func anyRSIAbove(analyses []models.TimeframeAnalysis, threshold float64) bool {
	for _, ta := range analyses {
		if ta.RSI > threshold {
			return true
		}
	}
	return false
}

func anyRSIBelow(analyses []models.TimeframeAnalysis, threshold float64) bool {
	for _, ta := range analyses {
		if ta.RSI < threshold {
			return true
		}
	}
	return false
}

// nearSupportResistance проверяет, стоит ли цена в пределах proximityPct
// процента от кластера поддержки или сопротивления недавнего окна
func nearSupportResistance(agg *market.Aggregator, proximityPct float64) bool {
	candles := agg.Recent(agg.Len())
	if len(candles) < 10 {
		return false
	}

	support := candles[0].Low
	resistance := candles[0].High
	for _, c := range candles {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}

	price := candles[len(candles)-1].Close
	if price <= 0 {
		return false
	}

	supportDist := math.Abs(price-support) / price * 100
	resistanceDist := math.Abs(resistance-price) / price * 100
	return supportDist <= proximityPct || resistanceDist <= proximityPct
}
