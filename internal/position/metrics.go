package position

import (
	"sync"
	"time"

	"github.com/skalibog/perpctl/pkg/models"
)

// Metrics накапливает торговую статистику контроллера
type Metrics struct {
	mu sync.Mutex

	strategy       string
	totalTrades    int
	filteredTrades int
	totalVolume    float64
	totalFees      float64
	feeSavings     float64

	holdTimeTotal time.Duration
	closedTrades  int
	wins          int
	losses        int
	winTotal      float64
	lossTotal     float64
}

// NewMetrics создает счетчик метрик для стратегии
func NewMetrics(strategy string) *Metrics {
	return &Metrics{
		strategy: strategy,
	}
}

// RecordTrade учитывает отправленный ордер
func (m *Metrics) RecordTrade(sizeUSD, fee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalTrades++
	m.totalVolume += sizeUSD
	m.totalFees += fee
}

// RecordFiltered учитывает отфильтрованный сигнал; сэкономленная
// комиссия идет в feeSavings
func (m *Metrics) RecordFiltered(estimatedFee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filteredTrades++
	m.feeSavings += estimatedFee
}

// RecordClose учитывает закрытие позиции с временем удержания и результатом
func (m *Metrics) RecordClose(holdTime time.Duration, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedTrades++
	m.holdTimeTotal += holdTime
	if pnl >= 0 {
		m.wins++
		m.winTotal += pnl
	} else {
		m.losses++
		m.lossTotal += -pnl
	}
}

// Snapshot возвращает копию метрик для телеметрии
func (m *Metrics) Snapshot() models.TradingMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := models.TradingMetricsSnapshot{
		Strategy:       m.strategy,
		TotalTrades:    m.totalTrades,
		FilteredTrades: m.filteredTrades,
		TotalVolume:    m.totalVolume,
		TotalFees:      m.totalFees,
		FeeSavings:     m.feeSavings,
	}

	if m.closedTrades > 0 {
		snapshot.AvgHoldTimeMs = m.holdTimeTotal.Milliseconds() / int64(m.closedTrades)
		snapshot.WinRate = float64(m.wins) / float64(m.closedTrades)
	}
	if m.wins > 0 {
		snapshot.AvgWinSize = m.winTotal / float64(m.wins)
	}
	if m.losses > 0 {
		snapshot.AvgLossSize = m.lossTotal / float64(m.losses)
	}

	return snapshot
}
