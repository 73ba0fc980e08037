// Package telemetry sets up OpenTelemetry tracing for the proxy.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName scopes spans created by this service.
const TracerName = "github.com/JakeFAU/video-optimizer-proxy"

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterGCP    = "gcp"
)

// Config selects the exporter.
type Config struct {
	ServiceName string
	Version     string
	Exporter    string
	// ProjectID is the Google Cloud project for the gcp exporter.
	ProjectID string
	// Writer overrides stdout for the stdout exporter.
	Writer io.Writer
}

// Span attribute keys.
var (
	AttrJobID     = attribute.Key("optimizer.job.id")
	AttrVideoID   = attribute.Key("optimizer.video.id")
	AttrOperation = attribute.Key("optimizer.operation")
	AttrCacheHit  = attribute.Key("optimizer.cache.hit")
	AttrStatus    = attribute.Key("optimizer.upstream.status")
)

// InitTracerProvider installs a global tracer provider and the W3C
// propagators. With no exporter spans are sampled but dropped.
func InitTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case ExporterGCP:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("gcp trace exporter requires a project id")
		}
		exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create google trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
