package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

// Точность количества для USDT-M контрактов
const quantityPrecision = 3

// BinanceGateway типизированный адаптер USDT-M фьючерсов Binance
// для одного рынка
type BinanceGateway struct {
	client   *futures.Client
	symbol   string
	leverage int

	leverageOnce sync.Once
	leverageErr  error
}

// NewBinanceGateway создает шлюз исполнения для символа
func NewBinanceGateway(cfg config.BinanceConfig, symbol string) (*BinanceGateway, error) {
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		futures.UseTestnet = true
	}

	return &BinanceGateway{
		client: client,
		symbol: symbol,
	}, nil
}

// OpenPosition выставляет лимитный ордер, ограниченный допуском
// проскальзывания, на номинал sizeUSD
func (g *BinanceGateway) OpenPosition(ctx context.Context, side models.PositionSide, sizeUSD float64, leverage int, profile ExecutionProfile) (string, error) {
	if err := g.ensureLeverage(ctx, leverage); err != nil {
		return "", err
	}

	markPrice, err := g.markPrice(ctx)
	if err != nil {
		return "", err
	}

	quantity := decimal.NewFromFloat(sizeUSD / markPrice).Round(quantityPrecision)
	if quantity.IsZero() {
		return "", fmt.Errorf("номинал %.2f USD меньше шага количества", sizeUSD)
	}

	orderSide := futures.SideTypeBuy
	slippage := decimal.NewFromInt(int64(profile.SlippageBps)).Div(decimal.NewFromInt(10000))
	limitPrice := decimal.NewFromFloat(markPrice).Mul(decimal.NewFromInt(1).Add(slippage))
	if side == models.SideShort {
		orderSide = futures.SideTypeSell
		limitPrice = decimal.NewFromFloat(markPrice).Mul(decimal.NewFromInt(1).Sub(slippage))
	}

	order, err := g.client.NewCreateOrderService().
		Symbol(g.symbol).
		Side(orderSide).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeIOC).
		Quantity(quantity.String()).
		Price(limitPrice.Round(2).String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("ошибка выставления ордера: %w", err)
	}

	logger.Info("Ордер отправлен",
		zap.String("symbol", g.symbol),
		zap.String("side", string(side)),
		zap.Float64("size_usd", sizeUSD),
		zap.Int("slippage_bps", profile.SlippageBps),
		zap.Int("auction_seconds", profile.AuctionSeconds),
		zap.Int64("order_id", order.OrderID))

	return strconv.FormatInt(order.OrderID, 10), nil
}

// ClosePosition закрывает долю открытой позиции рыночным reduce-only ордером
func (g *BinanceGateway) ClosePosition(ctx context.Context, percent float64) (string, error) {
	if percent <= 0 || percent > 100 {
		return "", fmt.Errorf("некорректная доля закрытия: %.2f%%", percent)
	}

	positions, err := g.client.NewGetPositionRiskService().Symbol(g.symbol).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса позиции: %w", err)
	}

	var amount float64
	for _, p := range positions {
		amount = parseFloat(p.PositionAmt)
		if amount != 0 {
			break
		}
	}
	if amount == 0 {
		// Закрывать нечего, повторный вызов безопасен
		return "", nil
	}

	orderSide := futures.SideTypeSell
	if amount < 0 {
		orderSide = futures.SideTypeBuy
		amount = -amount
	}

	quantity := decimal.NewFromFloat(amount * percent / 100).Round(quantityPrecision)
	if quantity.IsZero() {
		return "", nil
	}

	order, err := g.client.NewCreateOrderService().
		Symbol(g.symbol).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("ошибка закрытия позиции: %w", err)
	}

	logger.Info("Позиция закрывается",
		zap.String("symbol", g.symbol),
		zap.Float64("percent", percent),
		zap.Int64("order_id", order.OrderID))

	return strconv.FormatInt(order.OrderID, 10), nil
}

// PositionSummary переводит состояние фьючерсного счета в типизированную сводку
func (g *BinanceGateway) PositionSummary(ctx context.Context) (*models.PositionSummary, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса счета: %w", err)
	}

	summary := &models.PositionSummary{
		TotalEquity:        parseFloat(account.TotalMarginBalance),
		TotalCollateral:    parseFloat(account.TotalWalletBalance),
		FreeCollateral:     parseFloat(account.AvailableBalance),
		TotalUnrealizedPnl: parseFloat(account.TotalUnrealizedProfit),
		Timestamp:          time.Now(),
	}

	for _, p := range account.Positions {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}

		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
		}
		notional := parseFloat(p.Notional)
		if notional < 0 {
			notional = -notional
		}

		summary.Positions = append(summary.Positions, models.RemotePosition{
			Symbol:        p.Symbol,
			Side:          side,
			EntryPrice:    parseFloat(p.EntryPrice),
			SizeUSD:       notional,
			UnrealizedPnl: parseFloat(p.UnrealizedProfit),
			Leverage:      int(parseFloat(p.Leverage)),
		})
		summary.TotalPositionUSD += notional
	}

	if summary.TotalEquity > 0 {
		summary.MarginUsagePct = (summary.TotalEquity - summary.FreeCollateral) / summary.TotalEquity * 100
	}

	return summary, nil
}

// FreeCollateral возвращает свободный залог счета
func (g *BinanceGateway) FreeCollateral(ctx context.Context) (float64, error) {
	summary, err := g.PositionSummary(ctx)
	if err != nil {
		return 0, err
	}
	return summary.FreeCollateral, nil
}

// GetKlines получает исторические свечи символа
func (g *BinanceGateway) GetKlines(ctx context.Context, interval string, limit int) ([]models.Candle, error) {
	klines, err := g.client.NewKlinesService().
		Symbol(g.symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			Symbol:    g.symbol,
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		}
	}

	return candles, nil
}

// ensureLeverage выставляет плечо один раз за время жизни шлюза
func (g *BinanceGateway) ensureLeverage(ctx context.Context, leverage int) error {
	g.leverageOnce.Do(func() {
		_, err := g.client.NewChangeLeverageService().
			Symbol(g.symbol).
			Leverage(leverage).
			Do(ctx)
		if err != nil {
			g.leverageErr = fmt.Errorf("ошибка установки плеча: %w", err)
			return
		}
		g.leverage = leverage
	})
	return g.leverageErr
}

// markPrice возвращает текущую отметочную цену символа
func (g *BinanceGateway) markPrice(ctx context.Context) (float64, error) {
	premium, err := g.client.NewPremiumIndexService().Symbol(g.symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса цены: %w", err)
	}
	if len(premium) == 0 {
		return 0, fmt.Errorf("нет данных о цене для %s", g.symbol)
	}

	price := parseFloat(premium[0].MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("некорректная цена %q для %s", premium[0].MarkPrice, g.symbol)
	}
	return price, nil
}

// parseFloat парсит десятичную строку SDK, ошибки дают ноль
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
