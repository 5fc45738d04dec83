package exchange

import (
	"context"

	"github.com/skalibog/perpctl/pkg/models"
)

// ExecutionProfile параметры исполнения ордера: допуск проскальзывания
// и длительность аукциона цены
type ExecutionProfile struct {
	SlippageBps    int
	AuctionSeconds int
}

// Gateway интерфейс исполнения на внешней площадке.
// Реализация переводит ответы SDK площадки в типы pkg/models,
// изолируя ядро от изменений форм SDK.
type Gateway interface {
	// OpenPosition открывает или наращивает позицию указанного
	// номинала и возвращает ссылку на ордер
	OpenPosition(ctx context.Context, side models.PositionSide, sizeUSD float64, leverage int, profile ExecutionProfile) (string, error)

	// ClosePosition закрывает долю открытой позиции (percent в (0,100])
	ClosePosition(ctx context.Context, percent float64) (string, error)

	// PositionSummary возвращает авторитетное состояние счета
	PositionSummary(ctx context.Context) (*models.PositionSummary, error)

	// FreeCollateral возвращает свободный залог в USD
	FreeCollateral(ctx context.Context) (float64, error)
}

// DataCollector периодический сборщик рыночных данных
type DataCollector interface {
	Start(ctx context.Context) error
	Stop()
}
