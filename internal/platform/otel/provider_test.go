package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/motorpool/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("MOTORPOOL_OTEL_ENDPOINT", "")
	t.Setenv("MOTORPOOL_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("MOTORPOOL_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("MOTORPOOL_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("MOTORPOOL_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("MOTORPOOL_OTEL_ENABLED", "")
	t.Setenv("MOTORPOOL_OTEL_SAMPLE_RATIO", "0.5")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_RejectsInvalidSampleRatio(t *testing.T) {
	t.Setenv("MOTORPOOL_OTEL_SAMPLE_RATIO", "half")

	if _, err := otel.Setup(context.Background(), "test-service"); err == nil {
		t.Fatal("expected invalid sample ratio to fail")
	}
}

func TestConfigActive(t *testing.T) {
	tests := []struct {
		cfg  otel.Config
		want bool
	}{
		{otel.Config{}, false},
		{otel.Config{Endpoint: "http://collector:4318"}, true},
		{otel.Config{Endpoint: "http://collector:4318", Enabled: "FALSE"}, false},
		{otel.Config{Endpoint: "  "}, false},
	}
	for _, tc := range tests {
		if got := tc.cfg.Active(); got != tc.want {
			t.Fatalf("Active(%+v) = %t, want %t", tc.cfg, got, tc.want)
		}
	}
}
