package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, "yugo-reconciler", l.ServiceName())
}

func TestWithContext_AddsIntentID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{Logger: zap.New(core), serviceName: "test"}

	ctx := ContextWithIntentID(context.Background(), "intent-1")
	l.WithContext(ctx).Info("transition")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "intent-1", entries[0].ContextMap()["intent_id"])
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	l := NewNop()
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestWithContext_AddsRequestAndTraceIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{Logger: zap.New(core)}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = context.WithValue(ctx, RequestIDKey, "req-7")
	l.WithContext(ctx).Warn("slow request")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.NotContains(t, fields, "intent_id")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.log")
	l, err := New(&Config{Level: "debug", ServiceName: "svc", OutputPath: path})
	require.NoError(t, err)

	l.Named("engine").Debug("committed", zap.String("intent_id", "i-1"))
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"committed"`)
	assert.Contains(t, string(raw), `"service":"svc"`)
	assert.Contains(t, string(raw), `"logger":"engine"`)
}
