package observability

import (
	"context"
	"log/slog"
	"time"
)

const (
	// LogFieldRunID is the field name for pipeline run ID.
	LogFieldRunID = "run_id"
	// LogFieldChannelID is the field name for channel ID.
	LogFieldChannelID = "channel_id"
	// LogFieldStep is the field name for pipeline step name.
	LogFieldStep = "step"
	// LogFieldAttempt is the field name for step attempt count.
	LogFieldAttempt = "attempt"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldQueryLen is the field name for query length.
	LogFieldQueryLen = "query_length"
)

// RunContext represents the context for a single pipeline run with structured logging.
type RunContext struct {
	RunID     string
	ChannelID string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewRunContextWithID creates a run context bound to an existing run ID.
func NewRunContextWithID(logger *slog.Logger, runID, channelID string) *RunContext {
	return &RunContext{
		RunID:     runID,
		ChannelID: channelID,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// Info logs an info message.
func (r *RunContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, r.baseAttrsAppended(attrs...)...)
}

// Debug logs a debug message.
func (r *RunContext) Debug(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, r.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (r *RunContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, r.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (r *RunContext) Error(msg string, err error, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()))
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, r.baseAttrsAppended(allAttrs...)...)
}

// Duration returns the elapsed time since the run started.
func (r *RunContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (r *RunContext) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

func (r *RunContext) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String(LogFieldRunID, r.RunID),
		slog.String(LogFieldChannelID, r.ChannelID),
	}
}

func (r *RunContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	return append(r.baseAttrs(), attrs...)
}

type ctxKey struct{}

// WithRunContext adds the run context to the context.
func WithRunContext(ctx context.Context, runCtx *RunContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, runCtx)
}

// FromContext extracts the run context from the context.
func FromContext(ctx context.Context) (*RunContext, bool) {
	runCtx, ok := ctx.Value(ctxKey{}).(*RunContext)
	return runCtx, ok
}
