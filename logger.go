package bhtsne

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with helpers for the stages of an embedding run.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// LogPhase logs the completion of a pipeline phase and its duration.
func (l *Logger) LogPhase(ctx context.Context, phase string, start time.Time, err error) {
	if err != nil {
		l.ErrorContext(ctx, "phase failed",
			"phase", phase,
			"elapsed", time.Since(start),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "phase completed",
		"phase", phase,
		"elapsed", time.Since(start),
	)
}

// LogCalibration logs the outcome of the perplexity search.
func (l *Logger) LogCalibration(ctx context.Context, n, k int, perplexity float64, unconverged int) {
	if unconverged > 0 {
		l.WarnContext(ctx, "perplexity calibration incomplete",
			"points", n,
			"k", k,
			"perplexity", perplexity,
			"unconverged", unconverged,
		)
		return
	}
	l.InfoContext(ctx, "perplexity calibration completed",
		"points", n,
		"k", k,
		"perplexity", perplexity,
	)
}

// LogProgress logs the cost at an optimization checkpoint.
func (l *Logger) LogProgress(ctx context.Context, iter int, cost float64, elapsed time.Duration) {
	l.InfoContext(ctx, "gradient descent progress",
		"iter", iter,
		"cost", cost,
		"elapsed", elapsed,
	)
}
