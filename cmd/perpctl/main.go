package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skalibog/perpctl/internal/analysis/aggregator"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/exchange"
	"github.com/skalibog/perpctl/internal/market"
	"github.com/skalibog/perpctl/internal/position"
	"github.com/skalibog/perpctl/internal/storage"
	"github.com/skalibog/perpctl/internal/strategy"
	"github.com/skalibog/perpctl/internal/ui"
	"github.com/skalibog/perpctl/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Выбираем пресет стратегии
	preset, err := strategy.Lookup(cfg.Trading.Strategy)
	if err != nil {
		logger.Fatal("Ошибка выбора стратегии", zap.Error(err))
	}
	logger.Info("Выбрана стратегия",
		zap.String("preset", preset.Name),
		zap.Float64("min_conviction", preset.MinConviction),
		zap.Bool("dynamic_sizing", preset.DynamicSizing))

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Инициализируем хранилище; в симуляции пишем в пустышку
	var store storage.Storage
	if cfg.Trading.Simulation || cfg.Storage.URL == "" {
		store = storage.NewNopStorage()
	} else {
		influx, err := storage.NewInfluxDBStorage(cfg.Storage, cfg.Trading.Symbol)
		if err != nil {
			logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
		}
		store = influx
	}
	defer store.Close()

	// Инициализируем шлюз биржи
	gateway, err := exchange.NewBinanceGateway(cfg.Binance, cfg.Trading.Symbol)
	if err != nil {
		logger.Fatal("Ошибка инициализации шлюза биржи", zap.Error(err))
	}

	// Агрегатор свечей и загрузка истории
	candles := market.NewAggregator(cfg.Trading.Symbol, cfg.Candles)
	collector := exchange.NewCandleCollector(gateway, candles, store, cfg.Candles)
	if err := collector.Backfill(ctx); err != nil {
		logger.Fatal("Ошибка загрузки свечной истории", zap.Error(err))
	}

	// Аналитика и контроллер позиции
	analyzer := aggregator.NewAnalyzer(cfg.Analysis, cfg.Candles, cfg.Trading.Symbol, candles, store)
	controller := position.NewController(cfg.Trading, preset, gateway, store)
	controller.Start(ctx)

	// Инициализируем UI
	userInterface, err := ui.NewTermUI(cfg.UI, controller, cfg.Trading.Symbol)
	if err != nil {
		logger.Fatal("Ошибка инициализации пользовательского интерфейса", zap.Error(err))
	}

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		userInterface.Stop()
	}()

	// Запускаем сборщик свечей в отдельной горутине
	go func() {
		defer collector.Stop()
		if err := collector.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Предупреждение: ошибка сборщика свечей: %v", err)
		}
	}()

	// Запускаем аналитический процесс в горутине
	go func() {
		// Отложенный старт для накопления данных
		time.Sleep(5 * time.Second)

		ticker := time.NewTicker(time.Duration(cfg.Analysis.IntervalSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sig, err := analyzer.GenerateSignal(ctx)
				if err != nil {
					log.Printf("Предупреждение: ошибка при генерации сигнала: %v", err)
					continue
				}
				if err := controller.HandleSignal(ctx, sig); err != nil {
					logger.Error("Ошибка обработки сигнала", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Запускаем UI в основном потоке (блокирующий вызов)
	if err := userInterface.Start(ctx); err != nil {
		logger.Error("Ошибка интерфейса", zap.Error(err))
	}

	// Штатное завершение: останавливаем фоновые процессы
	// и сводим счет к нулю
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := controller.Stop(shutdownCtx); err != nil {
		logger.Error("Ошибка при остановке контроллера", zap.Error(err))
	}
	logger.Info("Работа завершена")
}
