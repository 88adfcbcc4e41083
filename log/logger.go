package log

import "context"

// Logger is the structured logger every component of the sign-in stack takes.
// Its Debug/Info/Warn/Error methods also satisfy retryablehttp.LeveledLogger.
type Logger interface {
	With(args ...any) Logger

	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

type ctxKey struct{}

// WithAttrs returns a context whose log records carry args in addition to
// the logger's own attributes.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

func attrsFromCtx(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(ctxKey{}).([]any)
	return args
}

type nop struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

func (n nop) With(...any) Logger                         { return n }
func (nop) Debug(string, ...any)                         {}
func (nop) Info(string, ...any)                          {}
func (nop) Warn(string, ...any)                          {}
func (nop) Error(string, ...any)                         {}
func (nop) DebugContext(context.Context, string, ...any) {}
func (nop) InfoContext(context.Context, string, ...any)  {}
func (nop) WarnContext(context.Context, string, ...any)  {}
func (nop) ErrorContext(context.Context, string, ...any) {}
