package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/store/memory"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectorCountersAndHistogram(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess:     7,
				authgate.MetricLockoutTriggered: 1,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP authgate_login_success_total Successful logins.
# TYPE authgate_login_success_total counter
authgate_login_success_total 7
# HELP authgate_lockout_triggered_total Accounts locked after reaching the failure threshold.
# TYPE authgate_lockout_triggered_total counter
authgate_lockout_triggered_total 1
# HELP authgate_audit_dropped_total Audit events discarded because the dispatcher buffer was full.
# TYPE authgate_audit_dropped_total counter
authgate_audit_dropped_total 2
# HELP authgate_validate_latency_seconds Access token validation latency.
# TYPE authgate_validate_latency_seconds histogram
authgate_validate_latency_seconds_bucket{le="0.005"} 1
authgate_validate_latency_seconds_bucket{le="0.01"} 3
authgate_validate_latency_seconds_bucket{le="0.025"} 6
authgate_validate_latency_seconds_bucket{le="0.05"} 10
authgate_validate_latency_seconds_bucket{le="0.1"} 15
authgate_validate_latency_seconds_bucket{le="0.25"} 21
authgate_validate_latency_seconds_bucket{le="0.5"} 28
authgate_validate_latency_seconds_bucket{le="+Inf"} 36
authgate_validate_latency_seconds_sum 0
authgate_validate_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"authgate_login_success_total",
		"authgate_lockout_triggered_total",
		"authgate_audit_dropped_total",
		"authgate_validate_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestCollectorOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	c := NewCollector(fakeSource{snapshot: authgate.MetricsSnapshot{
		Counters:   map[authgate.MetricID]uint64{},
		Histograms: map[authgate.MetricID][]uint64{},
	}})

	want := len(authgate.CounterIDs()) + 1
	if got := testutil.CollectAndCount(c); got != want {
		t.Fatalf("expected %d series without histogram, got %d", want, got)
	}
}

func TestCollectorRegistersAgainstEngine(t *testing.T) {
	cfg := authgate.DefaultConfig()
	cfg.JWT.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.JWT.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.Password.BcryptCost = 4

	engine, err := authgate.New().WithConfig(cfg).WithIdentityStore(memory.New()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(engine)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}
