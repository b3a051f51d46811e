package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// TGBotAPIAdapter адаптирует slog.Logger под интерфейс логгера,
// который ожидает библиотека go-telegram-bot-api/v5.
type TGBotAPIAdapter struct {
	Logger *slog.Logger
}

// NewTGBotAPIAdapter создает адаптер с пометкой component=tgbotapi.
func NewTGBotAPIAdapter(l *slog.Logger) *TGBotAPIAdapter {
	return &TGBotAPIAdapter{Logger: l.With("component", "tgbotapi")}
}

// Println реализует метод интерфейса tgbotapi.Logger.
// Библиотека пишет сюда ошибки long polling, поэтому уровень - warn.
func (a *TGBotAPIAdapter) Println(v ...interface{}) {
	a.Logger.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

// Printf реализует метод интерфейса tgbotapi.Logger.
// В режиме Debug библиотека логирует через Printf каждый запрос.
func (a *TGBotAPIAdapter) Printf(format string, v ...interface{}) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
