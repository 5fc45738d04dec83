package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/market"
	"github.com/skalibog/perpctl/internal/storage"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

// Глубина загрузки истории на крупный таймфрейм
const backfillLimit = 100

// CandleSource источник свечной истории
type CandleSource interface {
	GetKlines(ctx context.Context, interval string, limit int) ([]models.Candle, error)
}

// CandleCollector забирает по одной закрытой свече за базовый тик
// и передает её агрегатору и хранилищу
type CandleCollector struct {
	source     CandleSource
	aggregator *market.Aggregator
	store      storage.Storage
	candlesCfg config.CandlesConfig

	lastOpenTime time.Time
	cancel       context.CancelFunc
}

// NewCandleCollector создает сборщик свечей
func NewCandleCollector(source CandleSource, aggregator *market.Aggregator, store storage.Storage, cfg config.CandlesConfig) *CandleCollector {
	return &CandleCollector{
		source:     source,
		aggregator: aggregator,
		store:      store,
		candlesCfg: cfg,
	}
}

// Backfill загружает историю базового разрешения и крупных таймфреймов,
// чтобы индикаторы имели данные сразу после старта
func (c *CandleCollector) Backfill(ctx context.Context) error {
	base, err := c.source.GetKlines(ctx, c.candlesCfg.Interval, c.candlesCfg.HistorySize)
	if err != nil {
		return fmt.Errorf("ошибка загрузки базовой истории: %w", err)
	}
	for _, candle := range base {
		c.aggregator.Push(candle)
	}
	if len(base) > 0 {
		c.lastOpenTime = base[len(base)-1].OpenTime
	}

	baseSeconds := int(market.IntervalDuration(c.candlesCfg.Interval) / time.Second)
	for _, w := range c.candlesCfg.Windows {
		if w.LengthSeconds <= baseSeconds {
			continue
		}
		interval, ok := nearestInterval(w.LengthSeconds)
		if !ok {
			continue
		}
		series, err := c.source.GetKlines(ctx, interval, backfillLimit)
		if err != nil {
			logger.Warn("Не удалось загрузить историю таймфрейма",
				zap.String("window", w.Name), zap.Error(err))
			continue
		}
		c.aggregator.Seed(w.Name, series)
		logger.Info("Загружена история таймфрейма",
			zap.String("window", w.Name),
			zap.Int("candles", len(series)))
	}

	return nil
}

// Start запускает периодический сбор, блокируется до отмены контекста
func (c *CandleCollector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(market.IntervalDuration(c.candlesCfg.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.collect(ctx); err != nil {
				logger.Warn("Ошибка сбора свечей", zap.Error(err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop останавливает сбор
func (c *CandleCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// collect забирает последнюю закрытую свечу, пропуская уже виденные
func (c *CandleCollector) collect(ctx context.Context) error {
	candles, err := c.source.GetKlines(ctx, c.candlesCfg.Interval, 2)
	if err != nil {
		return err
	}
	if len(candles) < 2 {
		return nil
	}

	// Последний элемент — живая свеча, берем закрытую перед ней
	closed := candles[len(candles)-2]
	if !closed.OpenTime.After(c.lastOpenTime) {
		return nil
	}
	c.lastOpenTime = closed.OpenTime

	c.aggregator.Push(closed)
	if c.store != nil {
		if err := c.store.SaveCandle(ctx, &closed); err != nil {
			logger.Warn("Не удалось сохранить свечу", zap.Error(err))
		}
	}
	return nil
}

// nearestInterval подбирает поддерживаемый интервал Binance
// для длины окна в секундах
func nearestInterval(seconds int) (string, bool) {
	supported := []struct {
		name    string
		seconds int
	}{
		{"1m", 60},
		{"3m", 180},
		{"5m", 300},
		{"15m", 900},
		{"30m", 1800},
		{"1h", 3600},
		{"2h", 7200},
		{"4h", 14400},
		{"6h", 21600},
		{"8h", 28800},
		{"12h", 43200},
		{"1d", 86400},
	}

	for _, s := range supported {
		if s.seconds == seconds {
			return s.name, true
		}
	}
	// Точного совпадения нет, берем ближайший снизу
	best := ""
	for _, s := range supported {
		if s.seconds < seconds {
			best = s.name
		}
	}
	return best, best != ""
}
