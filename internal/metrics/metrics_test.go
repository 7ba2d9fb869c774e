package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStartAsyncServesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartAsync(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	TradesTotal.WithLabelValues("BTC-USD", "buy", "success").Inc()
	TicksRun.Add(1)

	for _, path := range []string{"/metrics", "/debug/vars"} {
		resp, err := http.Get("http://" + srv.Addr + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, resp.StatusCode)
		}
		if path == "/metrics" && !strings.Contains(string(body), "venuepilot_trades_total") {
			t.Fatalf("venuepilot_trades_total not exported")
		}
		if path == "/debug/vars" && !strings.Contains(string(body), "ticks_run") {
			t.Fatalf("ticks_run not exported")
		}
	}
}

func TestSetState(t *testing.T) {
	SetState("TRADING_ACTIVE", []string{"UNINITIALIZED", "TRADING_ACTIVE"})

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "venuepilot_session_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			label := m.GetLabel()[0].GetValue()
			want := 0.0
			if label == "TRADING_ACTIVE" {
				want = 1
			}
			if got := m.GetGauge().GetValue(); got != want {
				t.Fatalf("state %s = %v, want %v", label, got, want)
			}
		}
		return
	}
	t.Fatalf("venuepilot_session_state not found")
}
