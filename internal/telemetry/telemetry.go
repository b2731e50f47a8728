// Package telemetry provides OpenTelemetry metrics for sync runs.
//
// Metrics are disabled by default and cost nothing when off.
//
//	QASYNC_OTEL_ENABLED=true   enable metrics (default: off)
//
// When enabled, a stdout exporter prints the collected counters once on
// Shutdown, at the end of the run.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationScope = "github.com/joescharf/qasync"

var shutdownFns []func(context.Context) error

// Enabled reports whether metrics are active (QASYNC_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("QASYNC_OTEL_ENABLED") == "true"
}

// Init installs the global meter provider. When metrics are disabled a
// no-op provider is installed. w receives exported metrics; nil means
// stderr.
func Init(w io.Writer) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if w == nil {
		w = os.Stderr
	}

	mp, err := NewProvider(w)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// NewProvider builds a meter provider exporting to w. Collection happens
// on Shutdown or ForceFlush only.
func NewProvider(w io.Writer) (*sdkmetric.MeterProvider, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exp)
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending metrics and shuts down the provider.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
