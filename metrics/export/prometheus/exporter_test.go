package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/auxmon/authcore/metrics"
)

func TestCollectorExportsCounters(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.LoginSuccess)
	m.Inc(metrics.LoginSuccess)
	m.Inc(metrics.RefreshReuseDetected)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		t.Fatalf("register: %v", err)
	}

	expected := strings.NewReader(`
# HELP authcore_login_success_total Successful logins.
# TYPE authcore_login_success_total counter
authcore_login_success_total 2
# HELP authcore_refresh_reuse_total Rotation attempts on already-consumed tokens.
# TYPE authcore_refresh_reuse_total counter
authcore_refresh_reuse_total 1
`)
	err := testutil.GatherAndCompare(reg, expected,
		"authcore_login_success_total", "authcore_refresh_reuse_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestCollectorZeroValues(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(metrics.New())); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != len(metrics.CounterDefs) {
		t.Fatalf("families = %d, want %d", len(families), len(metrics.CounterDefs))
	}
}
