package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/models"
)

// Storage интерфейс телеметрийного хранилища
type Storage interface {
	SaveCandle(ctx context.Context, candle *models.Candle) error
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	SaveSignal(ctx context.Context, signal *models.ConfluenceSignal) error
	SavePositionSnapshot(ctx context.Context, snapshot *models.ControllerSnapshot) error
	SaveMetrics(ctx context.Context, metrics *models.TradingMetricsSnapshot) error
	Close()
}

// InfluxDBStorage реализует интерфейс Storage поверх InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
	symbol   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig, symbol string) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
		symbol:   symbol,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandle сохраняет свечу
func (s *InfluxDBStorage) SaveCandle(ctx context.Context, candle *models.Candle) error {
	point := influxdb2.NewPoint(
		"candles",
		map[string]string{
			"symbol": candle.Symbol,
		},
		map[string]interface{}{
			"open":   candle.Open,
			"high":   candle.High,
			"low":    candle.Low,
			"close":  candle.Close,
			"volume": candle.Volume,
		},
		candle.OpenTime,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// SaveCandles сохраняет множество свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		if err := s.SaveCandle(ctx, candle); err != nil {
			return err
		}
	}
	s.writeAPI.Flush()
	return nil
}

// SaveSignal сохраняет сигнал конфлюэнса
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.ConfluenceSignal) error {
	fields := map[string]interface{}{
		"signal":        string(signal.PrimarySignal),
		"conviction":    signal.Conviction,
		"regime":        string(signal.Regime),
		"trend_aligned": signal.TrendAligned,
		"price":         signal.Price,
	}
	for name, value := range signal.Components {
		fields["component_"+name] = value
	}

	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
		},
		fields,
		signal.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// SavePositionSnapshot сохраняет снимок состояния контроллера
func (s *InfluxDBStorage) SavePositionSnapshot(ctx context.Context, snapshot *models.ControllerSnapshot) error {
	fields := map[string]interface{}{
		"stance":          string(snapshot.Stance),
		"paused":          snapshot.Paused,
		"total_equity":    snapshot.Summary.TotalEquity,
		"free_collateral": snapshot.Summary.FreeCollateral,
		"unrealized_pnl":  snapshot.Summary.TotalUnrealizedPnl,
		"margin_usage":    snapshot.Summary.MarginUsagePct,
	}
	if snapshot.Position != nil {
		fields["position_side"] = string(snapshot.Position.Side)
		fields["position_size"] = snapshot.Position.SizeUSD
		fields["entry_price"] = snapshot.Position.EntryPrice
	}

	point := influxdb2.NewPoint(
		"position_snapshots",
		map[string]string{
			"symbol": s.symbol,
		},
		fields,
		snapshot.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// SaveMetrics сохраняет снимок торговых метрик
func (s *InfluxDBStorage) SaveMetrics(ctx context.Context, metrics *models.TradingMetricsSnapshot) error {
	point := influxdb2.NewPoint(
		"trading_metrics",
		map[string]string{
			"symbol":   s.symbol,
			"strategy": metrics.Strategy,
		},
		map[string]interface{}{
			"total_trades":     metrics.TotalTrades,
			"filtered_trades":  metrics.FilteredTrades,
			"total_volume":     metrics.TotalVolume,
			"total_fees":       metrics.TotalFees,
			"avg_hold_time_ms": metrics.AvgHoldTimeMs,
			"win_rate":         metrics.WinRate,
			"avg_win_size":     metrics.AvgWinSize,
			"avg_loss_size":    metrics.AvgLossSize,
			"fee_savings":      metrics.FeeSavings,
		},
		snapshotTime(),
	)

	s.writeAPI.WritePoint(point)
	return nil
}
