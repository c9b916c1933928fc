package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup 创建输出 JSON 结构化日志的 slog.Logger，debug 为 true 时输出 Debug 级别。
func Setup(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault 将 Setup 的结果设为全局 logger，w 为 nil 时写入 os.Stdout。
func SetupDefault(w io.Writer, debug bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, debug)
	slog.SetDefault(logger)
	return logger
}
