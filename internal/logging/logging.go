// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes structured JSON logging at the given level.
// Returns the logger instance.
func Setup(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// RequestEvent is one structured entry per handled request.
type RequestEvent struct {
	Action         string  `json:"action"` // "analyze", "sanitize", "proxy", "report"
	RequestID      string  `json:"request_id"`
	InjectionScore float64 `json:"injection_score"`
	RiskCategory   string  `json:"risk_category"`
	ActionTaken    string  `json:"action_taken"`
	Path           string  `json:"path"`
	Method         string  `json:"method"`
	StatusCode     int     `json:"status_code"`
}

// Log writes the event to the structured logger.
func (e RequestEvent) Log(logger *slog.Logger) {
	attrs := []slog.Attr{
		slog.String("action", e.Action),
		slog.String("request_id", e.RequestID),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.Int("status_code", e.StatusCode),
	}

	if e.RiskCategory != "" {
		attrs = append(attrs, slog.String("risk_category", e.RiskCategory))
	}
	if e.InjectionScore > 0 {
		attrs = append(attrs, slog.Float64("injection_score", e.InjectionScore))
	}
	if e.ActionTaken != "" {
		attrs = append(attrs, slog.String("action_taken", e.ActionTaken))
	}

	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	logger.Info("request", args...)
}
