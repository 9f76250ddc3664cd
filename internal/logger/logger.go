// Package logger 在 slog 之上提供进程级的格式化日志入口。
// 级别与输出可在运行中切换，输出切换用于同时落盘与打印。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 替换日志输出目标（如 io.MultiWriter(stdout, file)）。
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel 解析级别字符串，未知值回落到 info。
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) { current.Load().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { current.Load().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { current.Load().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { current.Load().Error(fmt.Sprintf(format, v...)) }
