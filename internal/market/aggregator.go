package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/models"
)

// Aggregate свернутая свеча таймфрейма с готовностью окна.
// Readiness = наблюдаемая длина окна / требуемая, в диапазоне [0,1].
type Aggregate struct {
	Candle    models.Candle
	Readiness float64
	Observed  int
}

// Aggregator хранит ограниченную историю базовых свечей и сворачивает
// её в набор более крупных таймфреймов
type Aggregator struct {
	mu       sync.RWMutex
	symbol   string
	interval time.Duration
	capacity int
	base     []models.Candle
	windows  []config.TimeframeSpec
	seeded   map[string][]models.Candle
}

// NewAggregator создает агрегатор свечей
func NewAggregator(symbol string, cfg config.CandlesConfig) *Aggregator {
	return &Aggregator{
		symbol:   symbol,
		interval: IntervalDuration(cfg.Interval),
		capacity: cfg.HistorySize,
		base:     make([]models.Candle, 0, cfg.HistorySize),
		windows:  cfg.Windows,
		seeded:   make(map[string][]models.Candle),
	}
}

// Push добавляет базовую свечу, вытесняя самую старую при переполнении
func (a *Aggregator) Push(candle models.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.base = append(a.base, candle)
	if len(a.base) > a.capacity {
		a.base = a.base[len(a.base)-a.capacity:]
	}
}

// Seed загружает историю крупного таймфрейма, полученную с биржи,
// чтобы индикаторы имели данные сразу после старта
func (a *Aggregator) Seed(window string, candles []models.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seeded[window] = candles
}

// Len возвращает число накопленных базовых свечей
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.base)
}

// Last возвращает последнюю базовую свечу
func (a *Aggregator) Last() (models.Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.base) == 0 {
		return models.Candle{}, false
	}
	return a.base[len(a.base)-1], true
}

// Recent возвращает последние n базовых свечей от старых к новым
func (a *Aggregator) Recent(n int) []models.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n > len(a.base) {
		n = len(a.base)
	}
	out := make([]models.Candle, n)
	copy(out, a.base[len(a.base)-n:])
	return out
}

// Windows возвращает настроенные таймфреймы
func (a *Aggregator) Windows() []config.TimeframeSpec {
	return a.windows
}

// Trailing сворачивает хвост базовой истории длиной seconds в одну свечу.
// Частично заполненное окно не отбрасывается, а сообщает свою готовность.
func (a *Aggregator) Trailing(seconds int) Aggregate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.trailingLocked(seconds)
}

// trailingLocked выполняет свертку хвоста; вызывается под a.mu
func (a *Aggregator) trailingLocked(seconds int) Aggregate {
	need := a.candlesPerWindow(seconds)
	have := len(a.base)
	if have == 0 {
		return Aggregate{}
	}
	if have > need {
		have = need
	}

	agg := foldCandles(a.base[len(a.base)-have:])
	return Aggregate{
		Candle:    agg,
		Readiness: float64(have) / float64(need),
		Observed:  have,
	}
}

// Series возвращает свечную серию таймфрейма: загруженная история плюс
// базовые свечи, свернутые в последовательные бакеты длины окна.
// Последний бакет может быть частичным (живым).
func (a *Aggregator) Series(window string) ([]models.Candle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	spec, ok := a.findWindow(window)
	if !ok {
		return nil, fmt.Errorf("неизвестный таймфрейм: %s", window)
	}

	bucketSize := a.candlesPerWindow(spec.LengthSeconds)
	var series []models.Candle
	for _, c := range a.seeded[window] {
		// Загруженная свеча, пересекающая базовую историю, отбрасывается:
		// этот отрезок времени свернется из базовых свечей ниже
		if len(a.base) > 0 && c.OpenTime.Add(spec.Duration()).After(a.base[0].OpenTime) {
			break
		}
		series = append(series, c)
	}

	for i := 0; i < len(a.base); i += bucketSize {
		end := i + bucketSize
		if end > len(a.base) {
			end = len(a.base)
		}
		series = append(series, foldCandles(a.base[i:end]))
	}
	return series, nil
}

// Readiness возвращает готовность окна таймфрейма
func (a *Aggregator) Readiness(window string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	spec, ok := a.findWindow(window)
	if !ok {
		return 0
	}
	if len(a.seeded[window]) > 0 {
		return 1.0
	}
	return a.trailingLocked(spec.LengthSeconds).Readiness
}

// candlesPerWindow возвращает число базовых свечей в окне, минимум одна
func (a *Aggregator) candlesPerWindow(seconds int) int {
	n := int(time.Duration(seconds) * time.Second / a.interval)
	if n < 1 {
		n = 1
	}
	return n
}

func (a *Aggregator) findWindow(name string) (config.TimeframeSpec, bool) {
	for _, w := range a.windows {
		if w.Name == name {
			return w, true
		}
	}
	return config.TimeframeSpec{}, false
}

// foldCandles сворачивает непрерывный ряд свечей в одну:
// open первой, close последней, экстремумы, сумма объема
func foldCandles(candles []models.Candle) models.Candle {
	out := candles[0]
	for _, c := range candles[1:] {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
		out.Close = c.Close
		out.CloseTime = c.CloseTime
	}
	return out
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1s":
		return time.Second
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Minute
	}
}
