package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts holds options for creating metrics
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter wraps an OTel counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new counter metric
func NewCounter(opts MetricOpts) (*Counter, error) {
	counter, err := GetMeter().Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: counter}, nil
}

// Add increments the counter by the given value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram wraps an OTel histogram
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a new histogram metric, optionally with explicit bucket boundaries
func NewHistogram(opts MetricOpts, boundaries ...float64) (*Histogram, error) {
	options := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(boundaries) > 0 {
		options = append(options, metric.WithExplicitBucketBoundaries(boundaries...))
	}

	histogram, err := GetMeter().Float64Histogram(opts.Name, options...)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// Record records a value in the histogram
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter wraps an OTel up-down counter, used for in-flight gauges
type UpDownCounter struct {
	counter metric.Int64UpDownCounter
}

// NewUpDownCounter creates a new up-down counter metric
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	counter, err := GetMeter().Int64UpDownCounter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &UpDownCounter{counter: counter}, nil
}

// Inc increments the counter by 1
func (c *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dec decrements the counter by 1
func (c *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// Common metric attribute keys
const (
	AttrIntentKind     = "intent.kind"
	AttrIntentState    = "intent.state"
	AttrLedgerFunction = "ledger.function"
	AttrErrorType      = "error.type"
)

func IntentKindAttr(kind string) attribute.KeyValue {
	return attribute.String(AttrIntentKind, kind)
}

func IntentStateAttr(state string) attribute.KeyValue {
	return attribute.String(AttrIntentState, state)
}

func LedgerFunctionAttr(fn string) attribute.KeyValue {
	return attribute.String(AttrLedgerFunction, fn)
}

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}
