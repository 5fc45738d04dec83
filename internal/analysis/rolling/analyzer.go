package rolling

import (
	"math"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/market"
	"github.com/skalibog/perpctl/pkg/models"
)

// Analyzer реализует быстрый скоринг по коротким скользящим окнам.
// Каждое окно оценивается смещением open-close и силой тела свечи,
// взвешенной готовностью окна.
type Analyzer struct {
	config  config.RollingConfig
	windows []config.RollingWindow
}

// Result итог быстрого скоринга
type Result struct {
	Stance     models.Stance
	Score      float64
	Conviction float64
	Windows    []WindowScore
}

// WindowScore оценка одного окна
type WindowScore struct {
	LengthSeconds int
	Score         float64
	Readiness     float64
}

// NewAnalyzer создает быстрый анализатор
func NewAnalyzer(cfg config.RollingConfig, windows []config.RollingWindow) *Analyzer {
	return &Analyzer{
		config:  cfg,
		windows: windows,
	}
}

// Analyze сворачивает окна и возвращает предложение позиции
func (a *Analyzer) Analyze(agg *market.Aggregator) Result {
	result := Result{
		Stance:  models.StanceFlat,
		Windows: make([]WindowScore, 0, len(a.windows)),
	}

	weighted := 0.0
	for _, w := range a.windows {
		trailing := agg.Trailing(w.LengthSeconds)
		score := WindowBias(trailing.Candle)

		result.Windows = append(result.Windows, WindowScore{
			LengthSeconds: w.LengthSeconds,
			Score:         score,
			Readiness:     trailing.Readiness,
		})
		weighted += score * w.Weight * trailing.Readiness
	}
	result.Score = weighted

	switch {
	case weighted > a.config.LongThreshold:
		result.Stance = models.StanceLong
	case weighted < a.config.ShortThreshold:
		result.Stance = models.StanceShort
	}

	result.Conviction = math.Min(math.Abs(weighted)*2, 1.0)
	return result
}

// WindowBias возвращает оценку окна в [-1,1]: знак задает смещение
// open против close, величина — отношение тела к диапазону
func WindowBias(c models.Candle) float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return (c.Close - c.Open) / r
}
