package storage

import (
	"context"
	"time"

	"github.com/skalibog/perpctl/pkg/models"
)

// NopStorage хранилище-заглушка для симуляции и тестов
type NopStorage struct{}

// NewNopStorage создает заглушку хранилища
func NewNopStorage() *NopStorage {
	return &NopStorage{}
}

func (s *NopStorage) SaveCandle(ctx context.Context, candle *models.Candle) error { return nil }

func (s *NopStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error { return nil }

func (s *NopStorage) SaveSignal(ctx context.Context, signal *models.ConfluenceSignal) error {
	return nil
}

func (s *NopStorage) SavePositionSnapshot(ctx context.Context, snapshot *models.ControllerSnapshot) error {
	return nil
}

func (s *NopStorage) SaveMetrics(ctx context.Context, metrics *models.TradingMetricsSnapshot) error {
	return nil
}

func (s *NopStorage) Close() {}

// snapshotTime метка времени для точек без собственного времени
func snapshotTime() time.Time {
	return time.Now()
}
