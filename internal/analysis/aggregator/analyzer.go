package aggregator

import (
	"context"
	"math"
	"time"

	"github.com/skalibog/perpctl/internal/analysis/confluence"
	"github.com/skalibog/perpctl/internal/analysis/regime"
	"github.com/skalibog/perpctl/internal/analysis/rolling"
	"github.com/skalibog/perpctl/internal/analysis/technical"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/market"
	"github.com/skalibog/perpctl/internal/storage"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

// Уверенность, назначаемая при расхождении скореров и на холодном старте
const (
	disagreeConviction = 0.2
	coldStartCap       = 0.5
)

// Analyzer объединяет медленный и быстрый скоринг с детектором режима
// в один итоговый сигнал
type Analyzer struct {
	config  config.AnalysisConfig
	symbol  string
	candles *market.Aggregator
	slow    *confluence.Analyzer
	fast    *rolling.Analyzer
	regime  *regime.Detector
	storage storage.Storage
}

// NewAnalyzer создает агрегатор аналитики
func NewAnalyzer(cfg config.AnalysisConfig, candlesCfg config.CandlesConfig, symbol string, candles *market.Aggregator, store storage.Storage) *Analyzer {
	tech := technical.NewAnalyzer(cfg.Technical)
	return &Analyzer{
		config:  cfg,
		symbol:  symbol,
		candles: candles,
		slow:    confluence.NewAnalyzer(cfg.Confluence, candlesCfg.Windows, tech),
		fast:    rolling.NewAnalyzer(cfg.Rolling, candlesCfg.Rolling),
		regime:  regime.NewDetector(cfg.Regime),
		storage: store,
	}
}

// GenerateSignal вычисляет итоговый сигнал конфлюэнса.
//
// Политика слияния двух скореров, явная и тестируемая:
//   - медленный скоринг не готов (готовых таймфреймов меньше требуемого
//     кворума) — работает быстрый в одиночку с уверенностью не выше 0.5;
//   - оба готовы и согласны, уверенность медленного не ниже его порога —
//     направление медленного, уверенность max из двух;
//   - расхождение — принудительно нейтрально с низкой уверенностью.
func (a *Analyzer) GenerateSignal(ctx context.Context) (*models.ConfluenceSignal, error) {
	slowRes, err := a.slow.Analyze(a.candles)
	if err != nil {
		return nil, err
	}
	fastRes := a.fast.Analyze(a.candles)
	marketRegime := a.regime.Detect(a.candles.Recent(a.candles.Len()))

	price := 0.0
	if last, ok := a.candles.Last(); ok {
		price = last.Close
	}

	signal := &models.ConfluenceSignal{
		Symbol:       a.symbol,
		Regime:       marketRegime,
		TrendAligned: slowRes.TrendAligned,
		Price:        price,
		Timestamp:    time.Now(),
		Components: map[string]float64{
			"slow_conviction": slowRes.Conviction,
			"fast_score":      fastRes.Score,
			"fast_conviction": fastRes.Conviction,
			"bullish_mass":    slowRes.BullishMass,
			"bearish_mass":    slowRes.BearishMass,
			"ready_windows":   float64(slowRes.Ready),
		},
	}

	slowReady := slowRes.Ready >= a.config.Confluence.MinAgreeing
	switch {
	case !slowReady:
		// Холодный старт: решает быстрый скоринг с заниженным потолком
		signal.PrimarySignal = stanceToSignal(fastRes.Stance)
		signal.Conviction = math.Min(fastRes.Conviction, coldStartCap)

	case slowRes.Signal.Stance() == fastRes.Stance && slowRes.Conviction >= a.config.Confluence.MinConviction:
		signal.PrimarySignal = slowRes.Signal
		signal.Conviction = math.Max(slowRes.Conviction, fastRes.Conviction)

	case slowRes.Signal == models.SignalNeutral && fastRes.Stance == models.StanceFlat:
		signal.PrimarySignal = models.SignalNeutral
		signal.Conviction = slowRes.Conviction

	default:
		// Расхождение скореров: безопасный дефолт
		logger.Debug("Скореры разошлись, сигнал нейтрализован",
			zap.String("slow", string(slowRes.Signal)),
			zap.String("fast", string(fastRes.Stance)))
		signal.PrimarySignal = models.SignalNeutral
		signal.Conviction = disagreeConviction
	}

	if a.storage != nil {
		if err := a.storage.SaveSignal(ctx, signal); err != nil {
			logger.Warn("Не удалось сохранить сигнал", zap.Error(err))
		}
	}

	return signal, nil
}

// stanceToSignal переводит предложение позиции быстрого скоринга
// в направленный сигнал без сильных вариантов
func stanceToSignal(stance models.Stance) models.Signal {
	switch stance {
	case models.StanceLong:
		return models.SignalLong
	case models.StanceShort:
		return models.SignalShort
	default:
		return models.SignalNeutral
	}
}
