package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options identifies the daemon run on every span it emits.
type Options struct {
	ServiceName string
	Version     string
	// InstanceID distinguishes daemon restarts; generated when empty.
	InstanceID string
	// SampleRatio in (0, 1); anything else keeps every span.
	SampleRatio float64
}

var (
	setupMu sync.Mutex
	active  *sdktrace.TracerProvider
)

// Setup installs the process-wide tracer provider. A provider that is
// already installed must be shut down before another Setup.
func Setup(opts Options) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if active != nil {
		return fmt.Errorf("tracer provider already installed")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "microclaw"
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceInstanceID(opts.InstanceID),
	}
	if opts.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.Version))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("building trace resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	active = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(active)
	return nil
}

// Shutdown flushes and removes the installed tracer provider, allowing
// a later Setup.
func Shutdown(ctx context.Context) error {
	setupMu.Lock()
	tp := active
	active = nil
	setupMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span and stamps its trace id into the context so
// log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
