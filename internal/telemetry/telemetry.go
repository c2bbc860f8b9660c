// Package telemetry wires OpenTelemetry tracing into every process:
// OTLP/gRPC export, a global tracer provider, and W3C trace-context
// propagation across both gRPC calls and broker messages.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Init starts OpenTelemetry tracing for serviceName: an OTLP/gRPC exporter,
// a batching tracer provider registered globally, and the W3C trace-context
// propagator. The returned func flushes pending spans and must be deferred.
func Init(serviceName string) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("v1.0.0"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("telemetry: shutdown: %v", err)
		}
	}, nil
}

// HeaderCarrier adapts a plain string-keyed header map (Kafka's
// *sarama.ProducerMessage.Headers, flattened to a map on the consume side)
// to propagation.TextMapCarrier so trace context can ride alongside every
// event envelope across the broker.
type HeaderCarrier map[string]string

func (c HeaderCarrier) Get(key string) string { return c[key] }

func (c HeaderCarrier) Set(key, value string) { c[key] = value }

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Inject stamps the current trace context from ctx into headers.
func Inject(ctx context.Context, headers HeaderCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, headers)
}

// Extract returns a context carrying the trace context found in headers.
func Extract(ctx context.Context, headers HeaderCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headers)
}
