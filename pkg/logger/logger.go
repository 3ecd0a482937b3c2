package logger

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey types the values WithContext reads from a context
type ContextKey string

const (
	IntentIDKey  ContextKey = "intent_id"
	RequestIDKey ContextKey = "request_id"
)

// Logger is a zap logger that knows which service it belongs to
type Logger struct {
	*zap.Logger
	serviceName string
}

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error
	ServiceName string
	Development bool   // console encoder when true, JSON otherwise
	OutputPath  string // stdout, stderr, or file path
}

// DefaultConfig logs JSON at info to stdout
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		ServiceName: "yugo-reconciler",
		OutputPath:  "stdout",
	}
}

var (
	global *Logger
	once   sync.Once
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(development bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openOutput(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

// New builds a logger. A nil config means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out, err := openOutput(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Development), out, parseLevel(cfg.Level))
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", cfg.ServiceName))

	return &Logger{Logger: z, serviceName: cfg.ServiceName}, nil
}

// NewNop discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Init builds the process logger once; later calls are no-ops
func Init(cfg *Config) error {
	var err error
	once.Do(func() {
		global, err = New(cfg)
	})
	return err
}

// Get returns the process logger, initialising it with defaults if needed
func Get() *Logger {
	if global == nil {
		_ = Init(DefaultConfig())
	}
	return global
}

// WithContext adds trace_id, span_id, intent_id and request_id from ctx.
// It returns l itself when ctx carries none of them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	var fields []zap.Field
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, key := range []ContextKey{IntentIDKey, RequestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), serviceName: l.serviceName}
}

// Named returns a child logger for a component
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component), serviceName: l.serviceName}
}

func (l *Logger) ServiceName() string {
	return l.serviceName
}

// ContextWithIntentID tags ctx so WithContext logs the intent id
func ContextWithIntentID(ctx context.Context, intentID string) context.Context {
	return context.WithValue(ctx, IntentIDKey, intentID)
}
