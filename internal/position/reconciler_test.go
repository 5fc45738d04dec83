package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/exchange"
	"github.com/skalibog/perpctl/internal/storage"
	"github.com/skalibog/perpctl/internal/strategy"
	"github.com/skalibog/perpctl/pkg/models"
)

type openOrder struct {
	side     models.PositionSide
	sizeUSD  float64
	leverage int
	profile  exchange.ExecutionProfile
}

// mockGateway записывает вызовы и отдает настраиваемую сводку счета.
// clearAfter > 0 очищает позиции сводки после указанного числа закрытий
type mockGateway struct {
	mu         sync.Mutex
	opens      []openOrder
	closes     []float64
	summary    models.PositionSummary
	openErr    error
	closeErr   error
	clearAfter int
}

func (g *mockGateway) OpenPosition(ctx context.Context, side models.PositionSide, sizeUSD float64, leverage int, profile exchange.ExecutionProfile) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return "", g.openErr
	}
	g.opens = append(g.opens, openOrder{side: side, sizeUSD: sizeUSD, leverage: leverage, profile: profile})
	return "order-1", nil
}

func (g *mockGateway) ClosePosition(ctx context.Context, percent float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return "", g.closeErr
	}
	g.closes = append(g.closes, percent)
	if g.clearAfter > 0 {
		g.clearAfter--
		if g.clearAfter == 0 {
			g.summary.Positions = nil
		}
	}
	return "order-2", nil
}

func (g *mockGateway) PositionSummary(ctx context.Context) (*models.PositionSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	summary := g.summary
	return &summary, nil
}

func (g *mockGateway) FreeCollateral(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summary.FreeCollateral, nil
}

func newTestController(t *testing.T, presetName string) (*Controller, *mockGateway) {
	t.Helper()

	preset, err := strategy.Lookup(presetName)
	require.NoError(t, err)

	gateway := &mockGateway{summary: models.PositionSummary{FreeCollateral: 1000}}
	trading := config.TradingConfig{
		Symbol:          "BTCUSDT",
		Strategy:        presetName,
		Leverage:        5,
		BaseSizeUSD:     200,
		FeeRate:         0.0005,
		Simulation:      true,
		PollIntervalSec: 1,
	}

	controller := NewController(trading, preset, gateway, storage.NewNopStorage())
	controller.summary = models.PositionSummary{FreeCollateral: 1000}
	return controller, gateway
}

func longEvent(conviction float64) Event {
	return Event{
		Stance:     models.StanceLong,
		Price:      50000,
		Conviction: conviction,
		Regime:     models.RegimeTrending,
	}
}

func TestConvictionFloorFilters(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	// Уверенность ниже порога пресета: входа нет, фильтр учтен
	err := controller.Evaluate(context.Background(), longEvent(0.5))
	require.NoError(t, err)

	assert.Empty(t, gateway.opens)
	assert.Equal(t, 1, controller.Metrics().FilteredTrades)
	assert.Nil(t, controller.Snapshot().Position)
}

func TestOpensAboveFloor(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	err := controller.Evaluate(context.Background(), longEvent(0.8))
	require.NoError(t, err)

	require.Len(t, gateway.opens, 1)
	assert.Equal(t, models.SideLong, gateway.opens[0].side)
	assert.InDelta(t, 200, gateway.opens[0].sizeUSD, 1e-9)
	assert.Equal(t, 5, gateway.opens[0].leverage)

	snapshot := controller.Snapshot()
	assert.Equal(t, models.StanceLong, snapshot.Stance)
	require.NotNil(t, snapshot.Position)
	assert.InDelta(t, 200, snapshot.Position.SizeUSD, 1e-9)
	assert.Equal(t, 1, controller.Metrics().TotalTrades)
}

func TestDynamicSizingScalesWithConviction(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	// balanced: пол 0.6; на уверенности 1.0 размер растет до 1.5x базы
	err := controller.Evaluate(context.Background(), longEvent(1.0))
	require.NoError(t, err)

	require.Len(t, gateway.opens, 1)
	assert.InDelta(t, 300, gateway.opens[0].sizeUSD, 1e-9)
}

func TestStaticSizingIgnoresConviction(t *testing.T) {
	controller, gateway := newTestController(t, "conservative")

	err := controller.Evaluate(context.Background(), longEvent(1.0))
	require.NoError(t, err)

	require.Len(t, gateway.opens, 1)
	assert.InDelta(t, 200, gateway.opens[0].sizeUSD, 1e-9)
}

func TestIdempotentRepeat(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	// Повтор сошедшегося события не рождает новых ордеров
	assert.Len(t, gateway.opens, 1)
	assert.Empty(t, gateway.closes)
}

func TestChoppyForcesFlatBelowElevated(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	event := longEvent(0.65)
	event.Regime = models.RegimeChoppy

	// 0.65 ниже поднятого порога 0.6+0.15: принудительно в ноль
	require.NoError(t, controller.Evaluate(context.Background(), event))
	assert.Empty(t, gateway.opens)
	assert.Equal(t, 1, controller.Metrics().FilteredTrades)
}

func TestChoppyElevatedAppliesSizePenalty(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	event := longEvent(0.8)
	event.Regime = models.RegimeChoppy

	require.NoError(t, controller.Evaluate(context.Background(), event))
	require.Len(t, gateway.opens, 1)
	// Динамический размер 200 со штрафом 0.8
	assert.InDelta(t, 160, gateway.opens[0].sizeUSD, 1e-9)
}

func TestStopLossClosesRegardlessOfStance(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	// Стоп-лосс: fees=0.2, порог -0.5; запрошенное состояние не меняется
	event := longEvent(0.8)
	event.UnrealizedPnl = -1.0
	event.HasPnl = true
	require.NoError(t, controller.Evaluate(context.Background(), event))

	assert.Equal(t, []float64{100}, gateway.closes)
	snapshot := controller.Snapshot()
	assert.Nil(t, snapshot.Position)
	assert.Equal(t, models.StanceFlat, snapshot.Stance)
}

func TestTakeProfitCloses(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	// Тейк-профит: fees=0.2, порог +0.6
	event := longEvent(0.8)
	event.UnrealizedPnl = 1.0
	event.HasPnl = true
	require.NoError(t, controller.Evaluate(context.Background(), event))

	assert.Equal(t, []float64{100}, gateway.closes)
	metrics := controller.Metrics()
	assert.InDelta(t, 1.0, metrics.WinRate, 1e-9)
}

func TestMinHoldTimeFiltersEarlyExit(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := opened
	controller.now = func() time.Time { return now }

	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	flat := Event{Stance: models.StanceFlat, Price: 50000, Regime: models.RegimeTrending}

	// Выход через 3 секунды при минимуме 30: отфильтрован
	now = opened.Add(3 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Empty(t, gateway.closes)
	assert.NotNil(t, controller.Snapshot().Position)
	assert.Equal(t, 1, controller.Metrics().FilteredTrades)

	// После выдержки выход проходит
	now = opened.Add(31 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Equal(t, []float64{100}, gateway.closes)
	assert.Nil(t, controller.Snapshot().Position)
}

func TestFlatDwellDefersLiveExit(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	controller.trading.Simulation = false

	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := opened
	controller.now = func() time.Time { return now }

	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	flat := Event{Stance: models.StanceFlat, Price: 50000, Regime: models.RegimeTrending}

	// Первый запрос выхода в ноль взводит таймер и откладывается
	now = opened.Add(60 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Empty(t, gateway.closes)
	assert.NotNil(t, controller.Snapshot().Position)

	// Повтор внутри выдержки все еще откладывается
	now = opened.Add(61 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Empty(t, gateway.closes)

	// Направленный сигнал сбрасывает таймер выдержки
	now = opened.Add(62 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	now = opened.Add(66 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Empty(t, gateway.closes, "после сброса таймера выдержка отсчитывается заново")

	// Выдержка истекла: выход исполняется
	now = opened.Add(70 * time.Second)
	require.NoError(t, controller.Evaluate(context.Background(), flat))
	assert.Equal(t, []float64{100}, gateway.closes)
	assert.Nil(t, controller.Snapshot().Position)
}

func TestReversalClosesThenOpens(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")

	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := opened
	controller.now = func() time.Time { return now }

	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	now = opened.Add(time.Minute)
	reversal := Event{
		Stance:     models.StanceShort,
		Price:      50000,
		Conviction: 0.8,
		Regime:     models.RegimeTrending,
	}
	require.NoError(t, controller.Evaluate(context.Background(), reversal))

	assert.Equal(t, []float64{100}, gateway.closes)
	require.Len(t, gateway.opens, 2)
	assert.Equal(t, models.SideShort, gateway.opens[1].side)
	// Разворот идет с ослабленным профилем исполнения
	assert.Equal(t, 80, gateway.opens[1].profile.SlippageBps)
	assert.Equal(t, models.StanceShort, controller.Snapshot().Stance)
}

func TestInsufficientCollateralFilters(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	controller.summary = models.PositionSummary{FreeCollateral: 10}

	// Требуется 200/5=40 залога при свободных 10
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))
	assert.Empty(t, gateway.opens)
	assert.Equal(t, 1, controller.Metrics().FilteredTrades)
}

func TestSubmissionFailureLeavesStateUntouched(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	gateway.openErr = errors.New("venue rejected")

	err := controller.Evaluate(context.Background(), longEvent(0.8))
	require.Error(t, err)

	snapshot := controller.Snapshot()
	assert.Nil(t, snapshot.Position)
	assert.Equal(t, models.StanceFlat, snapshot.Stance)

	// После восстановления площадки следующий сигнал проходит
	gateway.openErr = nil
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))
	assert.Len(t, gateway.opens, 1)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))
	require.NotNil(t, controller.Snapshot().Position)

	// Биржа не видит позицию: локальное состояние очищается
	gateway.summary = models.PositionSummary{FreeCollateral: 1000}
	require.NoError(t, controller.reconcile(context.Background()))

	snapshot := controller.Snapshot()
	assert.Nil(t, snapshot.Position)
	assert.Equal(t, models.StanceFlat, snapshot.Stance)
}

func TestPauseClosesAndBlocks(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	require.NoError(t, controller.Pause(context.Background()))
	assert.Equal(t, []float64{100}, gateway.closes)
	assert.True(t, controller.Snapshot().Paused)

	// Новые входы блокированы
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.9)))
	assert.Len(t, gateway.opens, 1)
	assert.Equal(t, 1, controller.Metrics().FilteredTrades)

	controller.Resume()
	assert.False(t, controller.Snapshot().Paused)
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.9)))
	assert.Len(t, gateway.opens, 2)
}

func TestStopSweepsRemotePositions(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	// Биржа еще показывает хвост позиции после первого закрытия,
	// второе закрытие сводит счет в ноль
	gateway.summary = models.PositionSummary{
		FreeCollateral: 1000,
		Positions: []models.RemotePosition{
			{Symbol: "BTCUSDT", Side: models.SideLong, SizeUSD: 50},
		},
	}
	gateway.clearAfter = 2

	done := make(chan error, 1)
	go func() { done <- controller.Stop(context.Background()) }()

	select {
	case err := <-done:
		// Зачистка повторяет закрытие, пока биржа показывает позицию
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop не завершился")
	}
	assert.GreaterOrEqual(t, len(gateway.closes), 2)
}

func TestStopSurfacesUnclosedPosition(t *testing.T) {
	controller, gateway := newTestController(t, "balanced")
	require.NoError(t, controller.Evaluate(context.Background(), longEvent(0.8)))

	// Биржа показывает позицию после каждого прохода зачистки:
	// остановка обязана вернуть ошибку для ручного вмешательства
	gateway.summary = models.PositionSummary{
		FreeCollateral: 1000,
		Positions: []models.RemotePosition{
			{Symbol: "BTCUSDT", Side: models.SideLong, SizeUSD: 50},
		},
	}

	done := make(chan error, 1)
	go func() { done <- controller.Stop(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop не завершился")
	}
	// Закрытие при остановке плюс по одному на каждый проход
	assert.Len(t, gateway.closes, 1+teardownSweeps)
}

func TestChooseProfile(t *testing.T) {
	tight := chooseProfile(0.9, 100, false, 200)
	assert.Equal(t, 20, tight.SlippageBps)

	loose := chooseProfile(0.9, 100, true, 200)
	assert.Equal(t, 80, loose.SlippageBps)

	large := chooseProfile(0.7, 300, false, 200)
	assert.Equal(t, 80, large.SlippageBps)

	standard := chooseProfile(0.7, 150, false, 200)
	assert.Equal(t, 50, standard.SlippageBps)
}
