package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pagecycle/pkg/cycle"
)

// Default tracer name for page applications.
const defaultTracerName = "pagecycle"

// OTelConfig configures the OpenTelemetry listener.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "pagecycle").
	TracerName string

	// StepEvents adds a span event for every step entered.
	// Enabled by default.
	StepEvents bool

	// Filter determines which cycles to trace.
	// If nil, all cycles are traced.
	Filter func(c *cycle.Cycle) bool

	// AttributeExtractor adds custom attributes when the span starts.
	AttributeExtractor func(c *cycle.Cycle) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry listener.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithStepEvents enables or disables per-step span events.
func WithStepEvents(enabled bool) OTelOption {
	return func(c *OTelConfig) {
		c.StepEvents = enabled
	}
}

// WithCycleFilter sets a filter function for cycles.
func WithCycleFilter(filter func(c *cycle.Cycle) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *cycle.Cycle) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
		StepEvents: true,
	}
}

// Tracing traces request cycles. It is a cycle.Listener.
type Tracing struct {
	config OTelConfig
}

// OpenTelemetry creates a listener that starts one span per request cycle.
//
// The span:
//   - carries the cycle id, request method and path
//   - records each step as an event
//   - records the responding target and any fault
//
// The span is placed in the cycle context, so targets and listeners can
// reach it with trace.SpanFromContext(c.Context()).
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it
// in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) *Tracing {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)
	return &Tracing{config: config}
}

type tracedKey struct{}

// OnBeginRequest implements cycle.Listener.
func (t *Tracing) OnBeginRequest(ctx context.Context, c *cycle.Cycle) context.Context {
	if t.config.Filter != nil && !t.config.Filter(c) {
		return ctx
	}

	attrs := []attribute.KeyValue{
		attribute.String("pagecycle.cycle_id", c.ID()),
	}
	name := "pagecycle"
	if req := c.Request(); req != nil {
		attrs = append(attrs, attribute.String("http.method", req.Method()))
		if u := req.URL(); u != nil {
			attrs = append(attrs, attribute.String("url.path", u.Path))
			name = fmt.Sprintf("pagecycle %s %s", req.Method(), u.Path)
		}
	}
	if s, ok := c.Session().(interface{ ID() string }); ok {
		attrs = append(attrs, attribute.String("pagecycle.session_id", s.ID()))
	}
	if t.config.AttributeExtractor != nil {
		attrs = append(attrs, t.config.AttributeExtractor(c)...)
	}

	ctx, _ = t.config.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return context.WithValue(ctx, tracedKey{}, true)
}

// OnStep implements cycle.Listener.
func (t *Tracing) OnStep(c *cycle.Cycle, step cycle.Step) {
	if !t.config.StepEvents {
		return
	}
	if span, ok := spanOf(c); ok {
		span.AddEvent(step.String())
	}
}

// OnEndRequest implements cycle.Listener.
func (t *Tracing) OnEndRequest(c *cycle.Cycle, err error) {
	span, ok := spanOf(c)
	if !ok {
		return
	}
	defer span.End()

	span.SetAttributes(attribute.String("pagecycle.target", TargetKind(c.Target())))
	if fault := c.Fault(); fault != nil {
		span.SetAttributes(attribute.String("pagecycle.fault", CategorizeError(fault)))
		span.RecordError(fault)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func spanOf(c *cycle.Cycle) (trace.Span, bool) {
	ctx := c.Context()
	if traced, _ := ctx.Value(tracedKey{}).(bool); !traced {
		return nil, false
	}
	return trace.SpanFromContext(ctx), true
}
