// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// InfoWithCount styles a trailing (n) suffix, e.g. for active-connection counts.
func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithTuple styles a four-tuple, for connection lifecycle logging.
func (sl *StyledLogger) InfoWithTuple(msg string, tuple fmt.Stringer, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Tuple}.Sprint(tuple.String()))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) DebugWithTuple(msg string, tuple fmt.Stringer, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Tuple}.Sprint(tuple.String()))
	sl.logger.Debug(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithTuple(msg string, tuple fmt.Stringer, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Tuple}.Sprint(tuple.String()))
	sl.logger.Warn(styledMsg, args...)
}

// InfoReleased logs a connection release with its cause colour-coded.
func (sl *StyledLogger) InfoReleased(msg string, cause domain.ReleaseCause, args ...any) {
	var causeColor pterm.Color
	switch cause {
	case domain.CauseClientFin, domain.CauseServerFin:
		causeColor = sl.theme.ReleaseClean
	case domain.CauseTimeout, domain.CauseMaxLifetime:
		causeColor = sl.theme.ReleaseTimeout
	default:
		causeColor = sl.theme.ReleaseAbort
	}
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{causeColor}.Sprint(cause.String()))
	sl.logger.Info(styledMsg, args...)
}

// WarnExhausted logs pool/port exhaustion, the backpressure condition the
// control thread's stats report tracks closely.
func (sl *StyledLogger) WarnExhausted(msg string, resource string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Exhausted}.Sprint(resource))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	var formattedNums []string
	for _, num := range numbers {
		formattedNums = append(formattedNums, pterm.Style{sl.theme.Numbers}.Sprint(num))
	}

	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
