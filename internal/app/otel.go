package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/internal/config"
	otelexport "github.com/MrEthical07/handshake/metrics/export/otel"
)

// setupOTel pushes engine metrics to an OTLP/HTTP collector. It returns a
// nil shutdown func when export is disabled.
func setupOTel(ctx context.Context, cfg config.OTEL, engine *handshake.Engine) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)

	bridge, err := otelexport.NewOTelExporter(provider.Meter("github.com/MrEthical07/handshake"), engine)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("otel bridge: %w", err)
	}

	return func(ctx context.Context) error {
		if err := bridge.Close(); err != nil {
			return err
		}
		return provider.Shutdown(ctx)
	}, nil
}
