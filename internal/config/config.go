package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/skalibog/perpctl/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Candles  CandlesConfig  `yaml:"candles"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Storage  StorageConfig  `yaml:"storage"`
	UI       UIConfig       `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbol          string  `yaml:"symbol"`
	Strategy        string  `yaml:"strategy"`
	Leverage        int     `yaml:"leverage"`
	BaseSizeUSD     float64 `yaml:"base_position_size_usd"`
	FeeRate         float64 `yaml:"fee_rate"`
	Simulation      bool    `yaml:"simulation"`
	PollIntervalSec int     `yaml:"poll_interval_seconds"`
}

// RoundTripFee возвращает оценку комиссии туда-обратно для номинала
func (t TradingConfig) RoundTripFee(sizeUSD float64) float64 {
	return sizeUSD * t.FeeRate * 2
}

// CandlesConfig содержит настройки свечной истории
type CandlesConfig struct {
	Interval    string          `yaml:"interval"`
	HistorySize int             `yaml:"history_size"`
	Windows     []TimeframeSpec `yaml:"windows"`
	Rolling     []RollingWindow `yaml:"rolling"`
}

// TimeframeSpec описывает агрегированный таймфрейм
type TimeframeSpec struct {
	Name          string  `yaml:"name"`
	LengthSeconds int     `yaml:"length_seconds"`
	Weight        float64 `yaml:"weight"`
}

// Duration возвращает длину таймфрейма как time.Duration
func (t TimeframeSpec) Duration() time.Duration {
	return time.Duration(t.LengthSeconds) * time.Second
}

// RollingWindow описывает короткое скользящее окно быстрого скоринга
type RollingWindow struct {
	LengthSeconds int     `yaml:"length_seconds"`
	Weight        float64 `yaml:"weight"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	IntervalSeconds int              `yaml:"interval_seconds"`
	Technical       TechnicalConfig  `yaml:"technical"`
	Confluence      ConfluenceConfig `yaml:"confluence"`
	Rolling         RollingConfig    `yaml:"rolling"`
	Regime          RegimeConfig     `yaml:"regime"`
}

// TechnicalConfig настройки технических индикаторов
type TechnicalConfig struct {
	RSIPeriod  int `yaml:"rsi_period"`
	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`
	BBPeriod   int `yaml:"bb_period"`
	ATRPeriod  int `yaml:"atr_period"`
	ADXPeriod  int `yaml:"adx_period"`
}

// ConfluenceConfig настройки медленного мультитаймфреймового скоринга
type ConfluenceConfig struct {
	MinAgreeing    int     `yaml:"min_agreeing"`
	MassThreshold  float64 `yaml:"mass_threshold"`
	OverboughtRSI  float64 `yaml:"overbought_rsi"`
	OversoldRSI    float64 `yaml:"oversold_rsi"`
	SRProximityPct float64 `yaml:"sr_proximity_pct"`
	MinConviction  float64 `yaml:"min_conviction"`
}

// RollingConfig настройки быстрого скоринга по скользящим окнам
type RollingConfig struct {
	LongThreshold  float64 `yaml:"long_threshold"`
	ShortThreshold float64 `yaml:"short_threshold"`
}

// RegimeConfig настройки детектора режима рынка
type RegimeConfig struct {
	MinSamples int `yaml:"min_samples"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	RefreshRate int `yaml:"refresh_rate_ms"`
	MaxLogLines int `yaml:"max_log_lines"`
}

// Load загружает и валидирует конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", config))
	logger.Info("Загружена конфигурация",
		zap.String("symbol", config.Trading.Symbol),
		zap.String("strategy", config.Trading.Strategy))
	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для опущенных полей
func (c *Config) applyDefaults() {
	if c.Trading.Leverage == 0 {
		c.Trading.Leverage = 5
	}
	if c.Trading.FeeRate == 0 {
		c.Trading.FeeRate = 0.0005
	}
	if c.Trading.PollIntervalSec == 0 {
		c.Trading.PollIntervalSec = 1
	}
	if c.Candles.Interval == "" {
		c.Candles.Interval = "1m"
	}
	if c.Candles.HistorySize == 0 {
		c.Candles.HistorySize = 360
	}
	if c.Analysis.IntervalSeconds == 0 {
		c.Analysis.IntervalSeconds = 5
	}
	if c.Analysis.Technical.RSIPeriod == 0 {
		c.Analysis.Technical = TechnicalConfig{
			RSIPeriod:  14,
			MACDFast:   12,
			MACDSlow:   26,
			MACDSignal: 9,
			BBPeriod:   20,
			ATRPeriod:  14,
			ADXPeriod:  14,
		}
	}
	if c.Analysis.Confluence.MinAgreeing == 0 {
		c.Analysis.Confluence = ConfluenceConfig{
			MinAgreeing:    4,
			MassThreshold:  0.6,
			OverboughtRSI:  70,
			OversoldRSI:    30,
			SRProximityPct: 0.5,
			MinConviction:  0.6,
		}
	}
	if c.Analysis.Rolling.LongThreshold == 0 {
		c.Analysis.Rolling.LongThreshold = 0.05
		c.Analysis.Rolling.ShortThreshold = -0.05
	}
	if c.Analysis.Regime.MinSamples == 0 {
		c.Analysis.Regime.MinSamples = 10
	}
	if c.UI.RefreshRate == 0 {
		c.UI.RefreshRate = 500
	}
	if c.UI.MaxLogLines == 0 {
		c.UI.MaxLogLines = 12
	}
}

// Validate проверяет инварианты конфигурации
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("не указан торговый символ")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 100 {
		return fmt.Errorf("плечо должно быть в диапазоне 1..100, получено %d", c.Trading.Leverage)
	}
	if c.Trading.BaseSizeUSD <= 0 {
		return fmt.Errorf("базовый размер позиции должен быть положительным")
	}
	if len(c.Candles.Windows) == 0 {
		return fmt.Errorf("не настроен ни один агрегированный таймфрейм")
	}
	if err := checkWeights("windows", windowWeights(c.Candles.Windows)); err != nil {
		return err
	}
	if len(c.Candles.Rolling) > 0 {
		if err := checkWeights("rolling", rollingWeights(c.Candles.Rolling)); err != nil {
			return err
		}
	}
	return nil
}

// checkWeights проверяет, что веса суммируются в 1.0
func checkWeights(section string, weights []float64) error {
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("%s: вес не может быть отрицательным", section)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("%s: веса должны суммироваться в 1.0, получено %.3f", section, sum)
	}
	return nil
}

func windowWeights(windows []TimeframeSpec) []float64 {
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w.Weight
	}
	return out
}

func rollingWeights(windows []RollingWindow) []float64 {
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w.Weight
	}
	return out
}
