package log

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// redactRule заменяет в строке один вид секрета.
type redactRule struct {
	re      *regexp.Regexp
	replace func(match []string) string
}

// Порядок важен: ссылка на файл содержит токен и обрабатывается первой.
var redactRules = []redactRule{
	// Ссылки на скачивание файлов Bot API: https://api.telegram.org/file/bot<token>/<file_path>.
	// Токен в них маскируется целиком, даже если не похож на стандартный.
	{
		re: regexp.MustCompile(`(api\.telegram\.org/file/)bot[^/\s"']+/`),
		replace: func(m []string) string {
			return m[1] + "bot<redacted>/"
		},
	},
	// Токен бота вида 123456:AA..., в том числе в методах Bot API (bot123456:AA.../getUpdates).
	{
		re: regexp.MustCompile(`\b(bot)?\d{5,}:[A-Za-z0-9_-]{35,}`),
		replace: func(m []string) string {
			return m[1] + "<redacted>"
		},
	},
	// Номер телефона identity, который вводится при входе: остаются код страны и оператора.
	{
		re: regexp.MustCompile(`\+\d{7,15}\b`),
		replace: func(m []string) string {
			return m[0][:4] + strings.Repeat("*", len(m[0])-4)
		},
	},
}

// Redact маскирует токены бота, ссылки на файлы Bot API и номера телефонов.
func Redact(s string) string {
	for _, rule := range redactRules {
		if !rule.re.MatchString(s) {
			continue
		}
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.replace(rule.re.FindStringSubmatch(match))
		})
	}
	return s
}

// SecretsHandler маскирует секреты в сообщении и атрибутах записи перед передачей следующему обработчику.
type SecretsHandler struct {
	next slog.Handler
}

// NewSecretsHandler оборачивает next.
func NewSecretsHandler(next slog.Handler) *SecretsHandler {
	return &SecretsHandler{next: next}
}

func (h *SecretsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle собирает новую запись: исходную slog может переиспользовать после возврата.
func (h *SecretsHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SecretsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		redacted = append(redacted, redactAttr(a))
	}
	return &SecretsHandler{next: h.next.WithAttrs(redacted)}
}

func (h *SecretsHandler) WithGroup(name string) slog.Handler {
	return &SecretsHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]slog.Attr, 0, len(group))
		for _, ga := range group {
			redacted = append(redacted, redactAttr(ga))
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindAny:
		// Ошибки gotd и Bot API часто содержат URL запроса целиком.
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, Redact(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// NewMaskedLogger создает логгер, который не пропускает секреты в вывод.
func NewMaskedLogger(next slog.Handler) *slog.Logger {
	return slog.New(NewSecretsHandler(next))
}
