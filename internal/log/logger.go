// Package log provides structured logging for mipsld using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with mipsld-specific helpers.
type Logger struct {
	*zap.Logger
	onResolve func(slot uint32, addr uint64, name string, lazy bool) // resolve event callback (lazy or eager)
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter ISO8601 timestamps in both modes
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnResolve sets the callback fired whenever the lazy resolver or an
// eager (NOW-mode) resolve patches a GOT slot. slot is the patched index
// relative to got[2], matching internal/dll's own findGOTSlot numbering.
func (l *Logger) SetOnResolve(fn func(slot uint32, addr uint64, name string, lazy bool)) {
	l.onResolve = fn
}

// Resolve logs a symbol resolution event and invokes the resolve callback
// if one is set. This is the primary method internal/dll uses to report
// lazy-resolver and eager-resolve activity. lazy distinguishes a trampoline
// fire (ResolveLazy, at call time) from an eager NOW-mode fixup (at load
// time).
func (l *Logger) Resolve(slot uint32, addr uint64, name string, lazy bool) {
	if l.onResolve != nil {
		l.onResolve(slot, addr, name, lazy)
	}

	l.Debug("resolve",
		zap.Uint32("slot", slot),
		zap.String("sym", name),
		zap.Uint64("addr", addr),
		zap.Bool("lazy", lazy),
	)
}

// Dynamic logs a recognised .dynamic tag during loading.
func (l *Logger) Dynamic(tag string, val uint64) {
	l.Debug("dynamic", zap.String("tag", tag), zap.Uint64("val", val))
}

// Format logs a .dynamic constraint violation before it is surfaced as
// DLL_FORMAT.
func (l *Logger) Format(reason string) {
	l.Warn("format violation", zap.String("reason", reason))
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(zap.String("cat", category)),
		onResolve: l.onResolve,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
