package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/perpctl/internal/config"
	"github.com/skalibog/perpctl/internal/position"
	"github.com/skalibog/perpctl/pkg/logger"
	"github.com/skalibog/perpctl/pkg/models"
	"go.uber.org/zap"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	// Главный контейнер
	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	// Заголовок
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	// Заголовки секций
	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#ffffff")).
				Background(secondaryColor).
				Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	// Футер
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

// TermUI терминальная панель контроллера позиции
type TermUI struct {
	controller *position.Controller
	config     config.UIConfig
	symbol     string

	snapshot   models.ControllerSnapshot
	snapshotMu sync.RWMutex
	logs       []string
	logsMutex  sync.RWMutex

	program *tea.Program
	width   int
	height  int
	logFile string
}

// Сообщения для обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

func NewTermUI(cfg config.UIConfig, controller *position.Controller, symbol string) (*TermUI, error) {
	ui := &TermUI{
		controller: controller,
		config:     cfg,
		symbol:     symbol,
		logs:       []string{"perpctl запущен. Ожидание данных..."},
		width:      120,
		height:     40,
		logFile:    "perpctl.json.log",
	}

	if err := ui.loadLogsFromFile(); err != nil {
		ui.logs = append(ui.logs, fmt.Sprintf("Ошибка загрузки логов: %v", err))
	}

	return ui, nil
}

// Start запускает интерфейс, блокируется до выхода пользователя
func (ui *TermUI) Start(ctx context.Context) error {
	model := bubbleModel{ui: ui}
	ui.program = tea.NewProgram(model, tea.WithAltScreen())

	// Снимки контроллера и хвост логов обновляют экран в фоне
	go ui.watch(ctx)

	if _, err := ui.program.Run(); err != nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// Stop завершает интерфейс извне
func (ui *TermUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
}

// watch подписывается на снимки контроллера и перечитывает логи
func (ui *TermUI) watch(ctx context.Context) {
	snapshots := ui.controller.Subscribe()
	ticker := time.NewTicker(time.Duration(ui.config.RefreshRate) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case snapshot := <-snapshots:
			ui.snapshotMu.Lock()
			ui.snapshot = snapshot
			ui.snapshotMu.Unlock()
			ui.program.Send(refreshMsg{})
		case <-ticker.C:
			if err := ui.loadLogsFromFile(); err != nil {
				logger.Warn("Ошибка загрузки логов", zap.Error(err))
			}
			ui.snapshotMu.Lock()
			ui.snapshot = ui.controller.Snapshot()
			ui.snapshotMu.Unlock()
			ui.program.Send(refreshMsg{})
		case <-ctx.Done():
			return
		}
	}
}

// loadLogsFromFile читает хвост JSON-лога и форматирует записи
func (ui *TermUI) loadLogsFromFile() error {
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл не существует, это не ошибка
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string

	// Регулярное выражение для удаления ANSI-цветов
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)

	for scanner.Scan() {
		line := scanner.Text()

		var zapLog map[string]interface{}
		if err := json.Unmarshal([]byte(line), &zapLog); err == nil {
			level, _ := zapLog["level"].(string)
			ts, _ := zapLog["ts"].(string)
			msg, _ := zapLog["msg"].(string)

			level = ansiRegex.ReplaceAllString(level, "")

			timestamp := ""
			if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
				timestamp = t.Format("15:04:05")
			}

			formattedMsg := fmt.Sprintf("[%s] [%s] %s", timestamp, level, msg)

			for k, v := range zapLog {
				if k != "level" && k != "ts" && k != "msg" && k != "caller" {
					formattedMsg += fmt.Sprintf(" (%s: %v)", k, v)
				}
			}

			logs = append(logs, formattedMsg)
		} else {
			logs = append(logs, line)
		}

		if len(logs) > ui.config.MaxLogLines {
			logs = logs[1:]
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	ui.logsMutex.Lock()
	defer ui.logsMutex.Unlock()

	if len(logs) > 0 {
		ui.logs = logs
	}

	return nil
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			go func() {
				if err := m.ui.controller.Pause(context.Background()); err != nil {
					logger.Error("Ошибка приостановки торговли", zap.Error(err))
				}
			}()
		case "r":
			m.ui.controller.Resume()
		}

	case tea.WindowSizeMsg:
		m.ui.width = msg.Width
		m.ui.height = msg.Height

	case refreshMsg:
		// Просто обновляем UI
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.snapshotMu.RLock()
	snapshot := m.ui.snapshot
	m.ui.snapshotMu.RUnlock()

	m.ui.logsMutex.RLock()
	defer m.ui.logsMutex.RUnlock()

	title := titleStyle.Render(fmt.Sprintf("perpctl - %s", m.ui.symbol))
	signal := renderSignalSection(snapshot)
	pos := renderPositionSection(snapshot)
	metrics := renderMetricsSection(snapshot.Metrics)
	logs := renderLogsSection(m.ui.logs)
	footer := footerStyle.Render("Клавиши: P - пауза, R - возобновить, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			signal,
			"\n",
			pos,
			"\n",
			metrics,
			"\n",
			logs,
			"\n",
			footer,
		),
	)
}

// renderSignalSection показывает последний сигнал и режим рынка
func renderSignalSection(snapshot models.ControllerSnapshot) string {
	header := sectionHeaderStyle.Render("СИГНАЛ")
	content := strings.Builder{}

	signal := snapshot.Signal
	if signal.Timestamp.IsZero() {
		content.WriteString("  Ожидание данных...\n")
	} else {
		line := fmt.Sprintf("  %s: %s (%.2f) Режим: %s Цена: %.2f",
			signal.Symbol,
			formatSignalText(signal.PrimarySignal),
			signal.Conviction,
			formatRegimeText(signal.Regime),
			signal.Price)
		content.WriteString(line + "\n")

		if len(signal.Components) > 0 {
			parts := make([]string, 0, len(signal.Components))
			for name, value := range signal.Components {
				parts = append(parts, fmt.Sprintf("%s: %.2f", name, value))
			}
			content.WriteString("  " + strings.Join(parts, "  ") + "\n")
		}
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

// renderPositionSection показывает позицию и состояние счета
func renderPositionSection(snapshot models.ControllerSnapshot) string {
	header := sectionHeaderStyle.Render("ПОЗИЦИЯ")
	content := strings.Builder{}

	state := fmt.Sprintf("  Состояние: %s", strings.ToUpper(string(snapshot.Stance)))
	if snapshot.Paused {
		state += lipgloss.NewStyle().Foreground(warningColor).Bold(true).Render("  [ПАУЗА]")
	}
	content.WriteString(state + "\n")

	if snapshot.Position != nil {
		pnl := 0.0
		if remote := snapshot.Summary.Position(snapshot.Position.Symbol); remote != nil {
			pnl = remote.UnrealizedPnl
		}
		pnlStyle := lipgloss.NewStyle().Foreground(successColor)
		if pnl < 0 {
			pnlStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		content.WriteString(fmt.Sprintf("  %s %.2f USD x%d @ %.2f  PnL: %s\n",
			strings.ToUpper(string(snapshot.Position.Side)),
			snapshot.Position.SizeUSD,
			snapshot.Position.Leverage,
			snapshot.Position.EntryPrice,
			pnlStyle.Render(fmt.Sprintf("%+.2f", pnl))))
	}

	content.WriteString(fmt.Sprintf("  Капитал: %.2f  Свободный залог: %.2f  Маржа: %.1f%%\n",
		snapshot.Summary.TotalEquity,
		snapshot.Summary.FreeCollateral,
		snapshot.Summary.MarginUsagePct))

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

// renderMetricsSection показывает торговую статистику
func renderMetricsSection(metrics models.TradingMetricsSnapshot) string {
	header := sectionHeaderStyle.Render("МЕТРИКИ")
	content := strings.Builder{}

	content.WriteString(fmt.Sprintf("  Сделок: %d  Отфильтровано: %d  Оборот: %.0f USD\n",
		metrics.TotalTrades, metrics.FilteredTrades, metrics.TotalVolume))
	content.WriteString(fmt.Sprintf("  Комиссии: %.2f  Сэкономлено: %.2f  Winrate: %.0f%%  Удержание: %s\n",
		metrics.TotalFees,
		metrics.FeeSavings,
		metrics.WinRate*100,
		(time.Duration(metrics.AvgHoldTimeMs) * time.Millisecond).String()))

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

func renderLogsSection(logs []string) string {
	header := sectionHeaderStyle.Render("ЛОГИ")
	content := strings.Builder{}

	for _, log := range logs {
		// Выделение по уровню логирования
		if strings.Contains(log, "[ERROR]") {
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		} else if strings.Contains(log, "[INFO]") {
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		} else if strings.Contains(log, "[WARN]") {
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		} else if strings.Contains(log, "[DEBUG]") {
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}

		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

// Вспомогательные функции
func formatSignalText(signal models.Signal) string {
	var style lipgloss.Style

	switch signal {
	case models.SignalStrongLong:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.SignalLong:
		style = lipgloss.NewStyle().Foreground(successColor)
	case models.SignalStrongShort:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	case models.SignalShort:
		style = lipgloss.NewStyle().Foreground(errorColor)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}

	return style.Render(strings.ToUpper(string(signal)))
}

func formatRegimeText(regime models.Regime) string {
	var style lipgloss.Style

	switch regime {
	case models.RegimeTrending:
		style = lipgloss.NewStyle().Foreground(successColor)
	case models.RegimeChoppy:
		style = lipgloss.NewStyle().Foreground(errorColor)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}

	return style.Render(string(regime))
}
