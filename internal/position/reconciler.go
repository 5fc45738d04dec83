package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/exchange"
	"github.com/skalibog/perpctl/internal/storage"
	"github.com/skalibog/perpctl/internal/strategy"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

const (
	// Выдержка перед исполнением сигнала выхода в ноль,
	// защита от однотиковых выбросов
	flatConfirmDelay = 3 * time.Second

	// Надбавка к порогу уверенности в рваном режиме и границы порога
	choppyConvictionOffset = 0.15
	choppyThresholdFloor   = 0.5
	choppyThresholdCeil    = 0.95

	// Штрафы размера позиции в рваном режиме
	choppyPenaltyDynamic = 0.8
	choppyPenaltyStatic  = 0.6

	// Границы динамического сайзинга относительно базового номинала
	dynamicSizeFloor = 0.5
	dynamicSizeCeil  = 1.5

	// Абсолютный минимум ордера и порог сходимости экспозиции
	minOrderUSD = 10.0

	// Число проходов заключительной зачистки позиций
	teardownSweeps = 3
)

// Event входное событие реконсилиации: желаемое состояние,
// цена, уверенность и нереализованный PnL, если известен
type Event struct {
	Stance        models.Stance
	Price         float64
	Conviction    float64
	Regime        models.Regime
	UnrealizedPnl float64
	HasPnl        bool
}

// Controller сводит счет на бирже к желаемой экспозиции.
// Состояния: Flat и Open(side); все записи состояния сериализованы
// через один мьютекс, оценки событий однопроходны (single-flight).
type Controller struct {
	trading config.TradingConfig
	preset  strategy.Preset
	gateway exchange.Gateway
	store   storage.Storage
	metrics *Metrics

	mu         sync.Mutex
	stance     models.Stance
	position   *models.ActivePosition
	summary    models.PositionSummary
	lastSignal models.ConfluenceSignal
	paused     bool
	flatSince  time.Time

	evaluating atomic.Bool
	now        func() time.Time

	subsMu      sync.Mutex
	subscribers []chan models.ControllerSnapshot

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewController создает контроллер позиции
func NewController(trading config.TradingConfig, preset strategy.Preset, gateway exchange.Gateway, store storage.Storage) *Controller {
	return &Controller{
		trading: trading,
		preset:  preset,
		gateway: gateway,
		store:   store,
		metrics: NewMetrics(preset.Name),
		stance:  models.StanceFlat,
		now:     time.Now,
	}
}

// Start запускает периодическую реконсилиацию с удаленным состоянием
func (c *Controller) Start(ctx context.Context) {
	ctx, c.pollCancel = context.WithCancel(ctx)
	c.pollDone = make(chan struct{})
	go c.pollLoop(ctx)
}

// HandleSignal переводит сигнал конфлюэнса в событие и оценивает его
func (c *Controller) HandleSignal(ctx context.Context, signal *models.ConfluenceSignal) error {
	c.mu.Lock()
	c.lastSignal = *signal
	event := Event{
		Stance:     signal.PrimarySignal.Stance(),
		Price:      signal.Price,
		Conviction: signal.Conviction,
		Regime:     signal.Regime,
	}
	if c.position != nil {
		if remote := c.summary.Position(c.position.Symbol); remote != nil {
			event.UnrealizedPnl = remote.UnrealizedPnl
			event.HasPnl = true
		}
	}
	c.mu.Unlock()

	return c.Evaluate(ctx, event)
}

// Evaluate прогоняет событие через конвейер фильтров и при необходимости
// отправляет ордер. Перекрывающиеся оценки отбрасываются: следующий тик
// переоценит состояние заново, событие лишь откладывается, не теряется.
func (c *Controller) Evaluate(ctx context.Context, event Event) error {
	if !c.evaluating.CompareAndSwap(false, true) {
		logger.Debug("Оценка уже выполняется, событие отброшено")
		return nil
	}
	defer c.evaluating.Store(false)

	c.mu.Lock()
	paused := c.paused
	current := c.stance
	position := clonePosition(c.position)
	summary := c.summary
	c.mu.Unlock()

	estimatedFee := c.trading.RoundTripFee(c.trading.BaseSizeUSD)

	// 1. Пауза: новые входы блокированы
	if paused {
		if event.Stance != models.StanceFlat {
			c.metrics.RecordFiltered(estimatedFee)
		}
		return nil
	}

	// 2. Режимный фильтр: рваный рынок требует повышенной уверенности
	sizePenalty := 1.0
	if event.Regime == models.RegimeChoppy && event.Stance != models.StanceFlat {
		elevated := clamp(c.preset.MinConviction+choppyConvictionOffset, choppyThresholdFloor, choppyThresholdCeil)
		if event.Conviction < elevated {
			logger.Debug("Режимный фильтр: принудительно в ноль",
				zap.Float64("conviction", event.Conviction),
				zap.Float64("elevated", elevated))
			c.metrics.RecordFiltered(estimatedFee)
			event.Stance = models.StanceFlat
		} else if c.preset.DynamicSizing {
			sizePenalty = choppyPenaltyDynamic
		} else {
			sizePenalty = choppyPenaltyStatic
		}
	}

	// Принудительные выходы важнее проверки совпадения состояний:
	// стоп-лосс и тейк-профит срабатывают и при неизменном сигнале
	if position != nil && event.HasPnl {
		fees := c.trading.RoundTripFee(position.SizeUSD)
		switch {
		case event.UnrealizedPnl <= -fees*c.preset.StopLossMultiple:
			logger.Warn("Стоп-лосс: принудительное закрытие",
				zap.Float64("pnl", event.UnrealizedPnl),
				zap.Float64("threshold", -fees*c.preset.StopLossMultiple))
			return c.closePosition(ctx, position, event.UnrealizedPnl)
		case event.UnrealizedPnl >= fees*c.preset.MinProfitToCloseMultiple:
			logger.Info("Тейк-профит: принудительное закрытие",
				zap.Float64("pnl", event.UnrealizedPnl),
				zap.Float64("threshold", fees*c.preset.MinProfitToCloseMultiple))
			return c.closePosition(ctx, position, event.UnrealizedPnl)
		}
	}

	// 3. Совпадение с текущим состоянием — делать нечего
	if event.Stance == current {
		c.resetFlatTimer(event.Stance)
		return nil
	}

	// 4. Выдержка перед выходом в ноль, кроме симуляции
	if event.Stance == models.StanceFlat && position != nil && !c.trading.Simulation {
		if !c.flatConfirmed() {
			logger.Debug("Сигнал выхода в ноль ждет подтверждения")
			return nil
		}
	}

	// 5. Порог уверенности для новых направленных входов
	if event.Stance != models.StanceFlat && event.Conviction < c.preset.MinConviction {
		logger.Debug("Уверенность ниже порога пресета",
			zap.Float64("conviction", event.Conviction),
			zap.Float64("min", c.preset.MinConviction))
		c.metrics.RecordFiltered(estimatedFee)
		return nil
	}

	// 6. Минимальное время удержания, принудительные выходы выше не сюда
	if position != nil {
		held := c.now().Sub(position.OpenedAt)
		if held < c.preset.MinHoldTime {
			logger.Debug("Выход до минимального времени удержания отфильтрован",
				zap.Duration("held", held),
				zap.Duration("min", c.preset.MinHoldTime))
			c.metrics.RecordFiltered(estimatedFee)
			return nil
		}
	}

	// 7. Целевая экспозиция и сведение
	return c.converge(ctx, event, position, summary, sizePenalty)
}

// converge вычисляет дельту экспозиции и отправляет ордер
func (c *Controller) converge(ctx context.Context, event Event, position *models.ActivePosition, summary models.PositionSummary, sizePenalty float64) error {
	target := c.targetExposure(event) * sizePenalty
	delta := target - position.SignedExposure()

	negligible := math.Max(1.0, c.trading.BaseSizeUSD*0.01)
	if math.Abs(delta) < negligible {
		// Уже сведено, обновляем только учет
		c.mu.Lock()
		c.stance = event.Stance
		c.mu.Unlock()
		return nil
	}

	if target == 0 {
		return c.closePosition(ctx, position, event.UnrealizedPnl)
	}

	// Рост экспозиции требует запаса свободного залога
	increase := math.Abs(target) - math.Abs(position.SignedExposure())
	if increase > 0 {
		required := increase / float64(c.trading.Leverage)
		if summary.FreeCollateral < required {
			logger.Warn("Недостаточно залога, сигнал отфильтрован",
				zap.Float64("required", required),
				zap.Float64("free", summary.FreeCollateral))
			c.metrics.RecordFiltered(c.trading.RoundTripFee(math.Abs(delta)))
			return nil
		}
	}

	side := models.SideLong
	if target < 0 {
		side = models.SideShort
	}
	flip := position != nil && position.Side != side

	if flip {
		if err := c.closePosition(ctx, position, event.UnrealizedPnl); err != nil {
			return fmt.Errorf("ошибка закрытия при развороте: %w", err)
		}
		position = nil
		delta = target
	}

	size := math.Abs(target)
	if position != nil {
		// Доводка существующей позиции до цели
		if math.Abs(target) < position.SizeUSD {
			percent := (position.SizeUSD - math.Abs(target)) / position.SizeUSD * 100
			return c.shrinkPosition(ctx, position, percent)
		}
		size = math.Abs(delta)
	}
	if size < minOrderUSD {
		return nil
	}

	profile := chooseProfile(event.Conviction, size, flip, c.trading.BaseSizeUSD)
	orderRef, err := c.gateway.OpenPosition(ctx, side, size, c.trading.Leverage, profile)
	if err != nil {
		// Состояние не трогаем: следующий подходящий сигнал повторит
		return fmt.Errorf("ошибка отправки ордера: %w", err)
	}

	fee := size * c.trading.FeeRate
	c.metrics.RecordTrade(size, fee)

	c.mu.Lock()
	if c.position == nil {
		c.position = &models.ActivePosition{
			Symbol:     c.trading.Symbol,
			Side:       side,
			EntryPrice: event.Price,
			SizeUSD:    math.Abs(target),
			Leverage:   c.trading.Leverage,
			OpenedAt:   c.now(),
		}
	} else {
		c.position.SizeUSD = math.Abs(target)
	}
	c.stance = event.Stance
	c.mu.Unlock()

	logger.Info("Позиция сведена к цели",
		zap.String("side", string(side)),
		zap.Float64("target_usd", target),
		zap.String("order_ref", orderRef))
	c.notify()
	return nil
}

// targetExposure возвращает подписанный целевой номинал.
// Динамический сайзинг линейно растет с уверенностью над порогом пресета.
func (c *Controller) targetExposure(event Event) float64 {
	if event.Stance == models.StanceFlat {
		return 0
	}

	size := c.trading.BaseSizeUSD
	if c.preset.DynamicSizing {
		span := 1.0 - c.preset.MinConviction
		progress := 0.0
		if span > 0 {
			progress = clamp((event.Conviction-c.preset.MinConviction)/span, 0, 1)
		}
		factor := dynamicSizeFloor + (dynamicSizeCeil-dynamicSizeFloor)*progress
		size *= factor
	}

	if event.Stance == models.StanceShort {
		return -size
	}
	return size
}

// closePosition полностью закрывает позицию и фиксирует метрики
func (c *Controller) closePosition(ctx context.Context, position *models.ActivePosition, pnl float64) error {
	if position == nil {
		return nil
	}

	if _, err := c.gateway.ClosePosition(ctx, 100); err != nil {
		return fmt.Errorf("ошибка закрытия позиции: %w", err)
	}

	held := c.now().Sub(position.OpenedAt)
	c.metrics.RecordClose(held, pnl)
	c.metrics.RecordTrade(position.SizeUSD, position.SizeUSD*c.trading.FeeRate)

	c.mu.Lock()
	c.position = nil
	c.stance = models.StanceFlat
	c.flatSince = time.Time{}
	c.mu.Unlock()

	logger.Info("Позиция закрыта",
		zap.String("side", string(position.Side)),
		zap.Float64("size_usd", position.SizeUSD),
		zap.Duration("held", held),
		zap.Float64("pnl", pnl))
	c.notify()
	return nil
}

// shrinkPosition уменьшает позицию на процент
func (c *Controller) shrinkPosition(ctx context.Context, position *models.ActivePosition, percent float64) error {
	if _, err := c.gateway.ClosePosition(ctx, percent); err != nil {
		return fmt.Errorf("ошибка уменьшения позиции: %w", err)
	}

	closedUSD := position.SizeUSD * percent / 100
	c.metrics.RecordTrade(closedUSD, closedUSD*c.trading.FeeRate)

	c.mu.Lock()
	if c.position != nil {
		c.position.SizeUSD -= closedUSD
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// flatConfirmed отмечает первый запрос выхода в ноль и подтверждает
// его только после выдержки
func (c *Controller) flatConfirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flatSince.IsZero() {
		c.flatSince = c.now()
		return false
	}
	return c.now().Sub(c.flatSince) >= flatConfirmDelay
}

// resetFlatTimer сбрасывает выдержку при ненулевом сигнале
func (c *Controller) resetFlatTimer(stance models.Stance) {
	if stance == models.StanceFlat {
		return
	}
	c.mu.Lock()
	c.flatSince = time.Time{}
	c.mu.Unlock()
}

// Pause принудительно закрывает позицию и блокирует новые входы
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	position := clonePosition(c.position)
	c.mu.Unlock()

	logger.Info("Торговля приостановлена")
	if position != nil {
		if err := c.closePosition(ctx, position, c.lastPnl()); err != nil {
			return fmt.Errorf("ошибка закрытия при паузе: %w", err)
		}
	}
	c.notify()
	return nil
}

// Resume снимает паузу и сбрасывает отслеживаемое состояние в ноль,
// чтобы следующий сигнал оценивался без устаревшего гистерезиса
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.stance = models.StanceFlat
	c.flatSince = time.Time{}
	c.mu.Unlock()

	logger.Info("Торговля возобновлена")
	c.notify()
}

// Stop останавливает опрос, закрывает позицию и выполняет
// идемпотентную зачистку до подтвержденного нуля
func (c *Controller) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
		<-c.pollDone
	}

	c.mu.Lock()
	position := clonePosition(c.position)
	c.mu.Unlock()

	if position != nil {
		if err := c.closePosition(ctx, position, c.lastPnl()); err != nil {
			return fmt.Errorf("ошибка закрытия при остановке: %w", err)
		}
	}

	// Повторяемая зачистка: убеждаемся, что на бирже нет позиций
	for i := 0; i < teardownSweeps; i++ {
		summary, err := c.gateway.PositionSummary(ctx)
		if err != nil {
			return fmt.Errorf("ошибка проверки при остановке: %w", err)
		}
		if summary.Position(c.trading.Symbol) == nil {
			return nil
		}
		if _, err := c.gateway.ClosePosition(ctx, 100); err != nil {
			return fmt.Errorf("ошибка зачистки позиции: %w", err)
		}
	}
	return fmt.Errorf("биржа показывает открытую позицию после %d проходов зачистки", teardownSweeps)
}

// pollLoop периодически забирает удаленную истину и правит локальный дрейф.
// Ошибки площадки не фатальны: опрос отступает по экспоненте и
// возобновляется при восстановлении связи.
func (c *Controller) pollLoop(ctx context.Context) {
	defer close(c.pollDone)

	interval := time.Duration(c.trading.PollIntervalSec) * time.Second
	retry := &backoff.Backoff{
		Min:    interval,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if err := c.reconcile(ctx); err != nil {
				logger.Warn("Ошибка реконсилиации", zap.Error(err))
				timer.Reset(retry.Duration())
				continue
			}
			retry.Reset()
			timer.Reset(interval)
		case <-ctx.Done():
			return
		}
	}
}

// reconcile сверяет локальное состояние с удаленным.
// Удаленное всегда источник истины: локальная позиция — кэш
// со свежестью не хуже одного интервала опроса.
func (c *Controller) reconcile(ctx context.Context) error {
	summary, err := c.gateway.PositionSummary(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.summary = *summary
	remote := summary.Position(c.trading.Symbol)
	if c.position != nil && remote == nil {
		logger.Warn("Дрейф: биржа не видит позицию, локальное состояние очищено",
			zap.String("side", string(c.position.Side)),
			zap.Float64("size_usd", c.position.SizeUSD))
		c.position = nil
		c.stance = models.StanceFlat
	}
	c.mu.Unlock()

	if c.store != nil {
		snapshot := c.Snapshot()
		if err := c.store.SavePositionSnapshot(ctx, &snapshot); err != nil {
			logger.Warn("Не удалось сохранить снимок позиции", zap.Error(err))
		}
		metrics := c.metrics.Snapshot()
		if err := c.store.SaveMetrics(ctx, &metrics); err != nil {
			logger.Warn("Не удалось сохранить метрики", zap.Error(err))
		}
	}

	c.notify()
	return nil
}

// Snapshot возвращает снимок состояния для презентационного слоя
func (c *Controller) Snapshot() models.ControllerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ControllerSnapshot{
		Stance:    c.stance,
		Position:  clonePosition(c.position),
		Summary:   c.summary,
		Signal:    c.lastSignal,
		Metrics:   c.metrics.Snapshot(),
		Paused:    c.paused,
		Timestamp: c.now(),
	}
}

// Metrics возвращает снимок торговых метрик
func (c *Controller) Metrics() models.TradingMetricsSnapshot {
	return c.metrics.Snapshot()
}

// Subscribe возвращает канал снимков состояния; медленные подписчики
// пропускают обновления, но не блокируют контроллер
func (c *Controller) Subscribe() <-chan models.ControllerSnapshot {
	ch := make(chan models.ControllerSnapshot, 8)
	c.subsMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subsMu.Unlock()
	return ch
}

// notify рассылает свежий снимок подписчикам без блокировки
func (c *Controller) notify() {
	snapshot := c.Snapshot()
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// lastPnl возвращает последний известный нереализованный PnL позиции
func (c *Controller) lastPnl() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		return 0
	}
	if remote := c.summary.Position(c.position.Symbol); remote != nil {
		return remote.UnrealizedPnl
	}
	return 0
}

// chooseProfile подбирает профиль исполнения: жестче для уверенных
// малых ордеров, мягче для крупных разворотов
func chooseProfile(conviction, sizeUSD float64, flip bool, baseSizeUSD float64) exchange.ExecutionProfile {
	switch {
	case flip || sizeUSD > baseSizeUSD*1.2:
		return exchange.ExecutionProfile{SlippageBps: 80, AuctionSeconds: 60}
	case conviction >= 0.8 && sizeUSD <= baseSizeUSD:
		return exchange.ExecutionProfile{SlippageBps: 20, AuctionSeconds: 10}
	default:
		return exchange.ExecutionProfile{SlippageBps: 50, AuctionSeconds: 30}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clonePosition(p *models.ActivePosition) *models.ActivePosition {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
