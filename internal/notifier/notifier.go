// Package notifier reports bot activity to an operator channel. Delivery is
// best-effort: a failed notification never blocks or fails a trading cycle.
package notifier

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo        Level = "info"
	LevelOpportunity Level = "opportunity"
	LevelTrade       Level = "trade"
	LevelWarning     Level = "warning"
	LevelError       Level = "error"
)

// Notifier delivers operator-facing events.
type Notifier interface {
	Notify(level Level, event string, fields map[string]string)
}

// ZapNotifier writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type ZapNotifier struct {
	logger *zap.Logger
}

// NewZapNotifier creates a log-backed notifier.
func NewZapNotifier(logger *zap.Logger) *ZapNotifier {
	return &ZapNotifier{logger: logger}
}

func (n *ZapNotifier) Notify(level Level, event string, fields map[string]string) {
	zapFields := make([]zap.Field, 0, len(fields))
	for _, key := range sortedKeys(fields) {
		zapFields = append(zapFields, zap.String(key, fields[key]))
	}

	switch level {
	case LevelWarning:
		n.logger.Warn(event, zapFields...)
	case LevelError:
		n.logger.Error(event, zapFields...)
	default:
		n.logger.Info(event, zapFields...)
	}
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatMessage(level Level, event string, fields map[string]string) string {
	var b strings.Builder
	b.WriteString(levelEmoji(level))
	b.WriteString(" <b>")
	b.WriteString(event)
	b.WriteString("</b>")

	for _, key := range sortedKeys(fields) {
		b.WriteString(fmt.Sprintf("\n%s: %s", key, fields[key]))
	}
	return b.String()
}

func levelEmoji(level Level) string {
	switch level {
	case LevelOpportunity:
		return "\U0001F4C9" // chart decreasing
	case LevelTrade:
		return "✅" // check mark
	case LevelWarning:
		return "⚠️" // warning sign
	case LevelError:
		return "❌" // cross mark
	default:
		return "ℹ️" // information
	}
}
