package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	LogLevel  string `yaml:"level" env:"SIGNIN_LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"format" env:"SIGNIN_LOG_FORMAT" env-default:"text"`
	LogPath   string `yaml:"path" env:"SIGNIN_LOG_PATH" env-default:"./log/signin.log"`
	LogOutput string `yaml:"output" env:"SIGNIN_LOG_OUTPUT" env-default:"stderr"`
}

type SlogLogger struct {
	logger *slog.Logger
	closer io.Closer
}

var _ Logger = (*SlogLogger)(nil)

func getConfig(cfg ...Config) Config {
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.LogOutput == "" {
		c.LogOutput = "stderr"
	}

	if c.LogPath == "" {
		c.LogPath = "./log/signin.log"
	}

	return c
}

func NewSlogLogger(c ...Config) (*SlogLogger, error) {
	cfg := getConfig(c...)

	w, closer, err := setOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set output: %w", err)
	}

	return &SlogLogger{logger: slog.New(newHandler(w, cfg)), closer: closer}, nil
}

// NewWriterLogger builds a logger writing to w, ignoring cfg's output settings.
func NewWriterLogger(w io.Writer, c ...Config) *SlogLogger {
	return &SlogLogger{logger: slog.New(newHandler(w, getConfig(c...)))}
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time()
				a.Value = slog.StringValue(t.Format(time.DateTime))
			}
			return a
		}})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return &ctxHandler{base: h}
}

func (l SlogLogger) With(args ...any) Logger {
	return SlogLogger{logger: l.logger.With(args...), closer: l.closer}
}

func (l SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l SlogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func setOutput(cfg Config) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.LogOutput) {
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open output file: %w", err)
		}
		return f, f, nil
	default:
		return os.Stderr, nil, nil
	}
}

// ctxHandler adds the attributes stored with WithAttrs to every record.
type ctxHandler struct {
	base slog.Handler
}

func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if args := attrsFromCtx(ctx); len(args) > 0 {
		r = r.Clone()
		r.Add(args...)
	}
	return h.base.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{base: h.base.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{base: h.base.WithGroup(name)}
}
