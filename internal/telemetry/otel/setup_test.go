package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"state-sync-plane/backend/internal/telemetry"
)

func TestNewProvidersNoOpWhenEndpointUnset(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, endpoint, "sync-server", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil providers", endpoint)
		}
		// Shutdown of the no-op stack must be callable more than once.
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("first shutdown: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProvidersRejectsBadEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"unparseable", "http://[collector"},
		{"scheme only", "http://"},
		{"garbage scheme", "://collector:4317"},
	}

	ctx := context.Background()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(ctx, tc.endpoint, "sync-server", false); err == nil {
				t.Errorf("NewProviders(%q) should fail", tc.endpoint)
			}
		})
	}
}

func TestNoOpMeterBacksCoreCounters(t *testing.T) {
	// The server builds its counters before it knows whether an OTLP
	// collector exists; the no-op MeterProvider has to carry them.
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "sync-server", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("sync-server"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	metrics.UpdateEmitted(ctx, "update-session")
	metrics.Delivered(ctx, 3)
	metrics.DeliveryFailed(ctx)
	metrics.ActivitySkipped(ctx, "session")
	metrics.ActivityFlushed(ctx, "machine", 2)
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetGlobal(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "sync-server", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}

	oldTracer := otel.GetTracerProvider()
	oldMeter := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracer)
		otel.SetMeterProvider(oldMeter)
	}()

	providers.SetGlobal()

	if otel.GetTracerProvider() == oldTracer {
		t.Error("global TracerProvider was not replaced")
	}
	if otel.GetMeterProvider() == oldMeter {
		t.Error("global MeterProvider was not replaced")
	}
}

func TestSetGlobalSkipsNilProviders(t *testing.T) {
	oldTracer := otel.GetTracerProvider()
	oldMeter := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracer)
		otel.SetMeterProvider(oldMeter)
	}()

	p := &Providers{Shutdown: func(context.Context) error { return nil }}
	p.SetGlobal()

	if otel.GetTracerProvider() != oldTracer {
		t.Error("nil TracerProvider must leave the global untouched")
	}
	if otel.GetMeterProvider() != oldMeter {
		t.Error("nil MeterProvider must leave the global untouched")
	}
}
