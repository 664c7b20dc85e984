package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"logviewer/internal/config"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red          = "\033[31m"
	Green        = "\033[32m"
	Yellow       = "\033[33m"
	Blue         = "\033[34m"
	Cyan         = "\033[36m"
	White        = "\033[37m"
	Gray         = "\033[90m"
	BrightRed    = "\033[91m"
	BrightGreen  = "\033[92m"
	BrightYellow = "\033[93m"
	BrightBlue   = "\033[94m"
	BrightWhite  = "\033[97m"
)

// Component represents different parts of the system for color coding
type Component string

const (
	ComponentServer  Component = "SERVER"
	ComponentFiles   Component = "FILES"
	ComponentCleanup Component = "CLEANUP"
	ComponentWatch   Component = "WATCH"
	ComponentTail    Component = "TAIL"
	ComponentSearch  Component = "SEARCH"
	ComponentCLI     Component = "CLI"
)

func getComponentColor(component Component) string {
	switch component {
	case ComponentServer:
		return BrightGreen
	case ComponentFiles:
		return BrightBlue
	case ComponentCleanup:
		return BrightYellow
	case ComponentWatch:
		return Cyan
	case ComponentTail:
		return Blue
	case ComponentSearch:
		return Green
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	default:
		return Red
	}
}

// Logger wraps zap.Logger with per-component message tags.
type Logger struct {
	*zap.Logger
}

func consoleEncoder(enableColors bool) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()

	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("15:04:05")
		if enableColors {
			enc.AppendString(Dim + ts + Reset)
		} else {
			enc.AppendString(ts)
		}
	}

	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		s := "?"
		switch level {
		case zapcore.DebugLevel:
			s = "D"
		case zapcore.InfoLevel:
			s = "I"
		case zapcore.WarnLevel:
			s = "W"
		case zapcore.ErrorLevel:
			s = "E"
		}
		if enableColors {
			enc.AppendString(getLevelColor(level) + Bold + s + Reset)
		} else {
			enc.AppendString(s)
		}
	}

	cfg.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			enc.AppendString(Dim + file + Reset)
		} else {
			enc.AppendString(file)
		}
	}

	enc := zapcore.NewConsoleEncoder(cfg)
	if enableColors {
		return colorEncoder{Encoder: enc}
	}
	return enc
}

// colorEncoder colors the "[COMPONENT]" prefix of each message.
type colorEncoder struct {
	zapcore.Encoder
}

func (e colorEncoder) Clone() zapcore.Encoder {
	return colorEncoder{Encoder: e.Encoder.Clone()}
}

func (e colorEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = colorizeTag(ent.Message)
	return e.Encoder.EncodeEntry(ent, fields)
}

func colorizeTag(msg string) string {
	if !strings.HasPrefix(msg, "[") {
		return msg
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return msg
	}
	component := Component(msg[1:end])
	return getComponentColor(component) + msg[:end+1] + Reset + msg[end+1:]
}

// New builds a Logger from the logging config. Console output goes to stdout;
// when cfg.File is set a rotated JSON copy is written there as well.
func New(cfg config.LoggingConfig) (*Logger, error) {
	return build(cfg, zapcore.AddSync(os.Stdout), isatty.IsTerminal(os.Stdout.Fd()))
}

func build(cfg config.LoggingConfig, stdout zapcore.WriteSyncer, colors bool) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var stdoutEnc zapcore.Encoder
	if cfg.Format == "json" {
		stdoutEnc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		stdoutEnc = consoleEncoder(colors)
	}
	cores := []zapcore.Core{zapcore.NewCore(stdoutEnc, stdout, level)}

	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(sink),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{Logger: logger}, nil
}

// NewNop returns a Logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// tag prefixes msg with the component name. Colors are added by the console
// encoder so file sinks get plain text.
func (l *Logger) tag(component Component, msg string) string {
	return fmt.Sprintf("[%s] %s", component, msg)
}

func (l *Logger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

func (l *Logger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

func (l *Logger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

func (l *Logger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}
