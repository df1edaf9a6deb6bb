package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/professor93/grblctl/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.IncCommand("ok")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "grblctl_commands_total") {
		t.Error("Expected grblctl_commands_total in exposition")
	}
}

func TestIncRealtime(t *testing.T) {
	tests := []struct {
		b     byte
		label string
	}{
		{'?', "status"},
		{'!', "hold"},
		{'~', "resume"},
		{0x18, "reset"},
		{'x', "other"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.RealtimeTotal.WithLabelValues(tt.label))
			metrics.IncRealtime(tt.b)
			after := testutil.ToFloat64(metrics.RealtimeTotal.WithLabelValues(tt.label))
			if after != before+1 {
				t.Errorf("Expected %s counter to grow by 1, got %v -> %v", tt.label, before, after)
			}
		})
	}
}

func TestIncCommand_EmptyResult(t *testing.T) {
	before := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("unknown"))
	metrics.IncCommand("")
	if got := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("unknown")); got != before+1 {
		t.Errorf("Expected unknown counter %v, got %v", before+1, got)
	}
}

func TestSetConnected(t *testing.T) {
	metrics.SetConnected(true)
	if got := testutil.ToFloat64(metrics.ControllerConnected); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}
	metrics.SetConnected(false)
	if got := testutil.ToFloat64(metrics.ControllerConnected); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}
