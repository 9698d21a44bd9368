package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register failed: %v", err)
	}
}
