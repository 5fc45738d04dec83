package strategy

import (
	"fmt"
	"sort"
	"time"
)

// Preset именованный набор параметров агрессивности стратегии
type Preset struct {
	Name string

	// Минимальная уверенность для открытия направленной позиции
	MinConviction float64

	// Минимальное время удержания до разворота или выхода в ноль
	MinHoldTime time.Duration

	// Порог тейк-профита как множитель оценки комиссий туда-обратно
	MinProfitToCloseMultiple float64

	// Порог стоп-лосса как множитель оценки комиссий
	StopLossMultiple float64

	// Масштабировать ли размер позиции уверенностью
	DynamicSizing bool
}

// Статическая таблица пресетов, загружается один раз
var presets = map[string]Preset{
	"conservative": {
		Name:                     "conservative",
		MinConviction:            0.75,
		MinHoldTime:              60 * time.Second,
		MinProfitToCloseMultiple: 4.0,
		StopLossMultiple:         3.0,
		DynamicSizing:            false,
	},
	"balanced": {
		Name:                     "balanced",
		MinConviction:            0.6,
		MinHoldTime:              30 * time.Second,
		MinProfitToCloseMultiple: 3.0,
		StopLossMultiple:         2.5,
		DynamicSizing:            true,
	},
	"aggressive": {
		Name:                     "aggressive",
		MinConviction:            0.45,
		MinHoldTime:              10 * time.Second,
		MinProfitToCloseMultiple: 2.0,
		StopLossMultiple:         2.0,
		DynamicSizing:            true,
	},
}

// Lookup возвращает пресет по имени
func Lookup(name string) (Preset, error) {
	preset, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("неизвестная стратегия %q, доступны: %v", name, Names())
	}
	if err := preset.Validate(); err != nil {
		return Preset{}, err
	}
	return preset, nil
}

// Names возвращает отсортированный список имен пресетов
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate проверяет инварианты пресета
func (p Preset) Validate() error {
	if p.MinConviction <= 0 || p.MinConviction > 1 {
		return fmt.Errorf("стратегия %s: MinConviction должна быть в (0,1]", p.Name)
	}
	if p.MinProfitToCloseMultiple <= 0 || p.StopLossMultiple <= 0 {
		return fmt.Errorf("стратегия %s: множители порогов должны быть положительными", p.Name)
	}
	if p.MinHoldTime < 0 {
		return fmt.Errorf("стратегия %s: MinHoldTime не может быть отрицательным", p.Name)
	}
	return nil
}
