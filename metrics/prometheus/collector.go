// Package prometheus exposes authgate engine metrics as a
// prometheus.Collector.
//
// Counters are named authgate_<name>_total; validate latency is the
// histogram authgate_validate_latency_seconds. The collector reads a fresh
// snapshot on every scrape and never mutates the engine. Register it on a
// registry the caller owns rather than the global default.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/erpcore/authgate"
)

const namespace = "authgate"

// Source is the subset of *authgate.Engine the collector reads.
type Source interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

var counterHelp = map[authgate.MetricID]string{
	authgate.MetricLoginSuccess:          "Successful logins.",
	authgate.MetricLoginFailure:          "Logins rejected with invalid credentials.",
	authgate.MetricLoginLocked:           "Login attempts against a locked account.",
	authgate.MetricLockoutTriggered:      "Accounts locked after reaching the failure threshold.",
	authgate.MetricLoginRateLimited:      "Login attempts rejected by the per-IP rate limit.",
	authgate.MetricRefreshSuccess:        "Successful token refreshes.",
	authgate.MetricRefreshFailure:        "Rejected token refreshes.",
	authgate.MetricLogout:                "Logout calls.",
	authgate.MetricValidateSuccess:       "Access tokens accepted.",
	authgate.MetricValidateFailure:       "Access tokens rejected.",
	authgate.MetricTokenRevoked:          "Tokens written to the revocation store.",
	authgate.MetricRevocationUnavailable: "Auth decisions failed closed because the revocation store was unreachable.",
	authgate.MetricPasswordResetRequest:  "Password reset requests.",
	authgate.MetricPasswordResetComplete: "Completed password resets.",
	authgate.MetricPasswordResetFailure:  "Rejected password reset completions.",
	authgate.MetricRegister:              "Self-service registrations.",
	authgate.MetricPasswordChange:        "Authenticated password changes.",
}

// Collector implements prometheus.Collector over an engine snapshot.
type Collector struct {
	source   Source
	counters map[authgate.MetricID]*prometheus.Desc
	latency  *prometheus.Desc
	dropped  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds the descriptors for every engine metric.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:   source,
		counters: make(map[authgate.MetricID]*prometheus.Desc),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", authgate.MetricValidateLatency.String()+"_seconds"),
			"Access token validation latency.",
			nil, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "audit", "dropped_total"),
			"Audit events discarded because the dispatcher buffer was full.",
			nil, nil,
		),
	}
	for _, id := range authgate.CounterIDs() {
		help, ok := counterHelp[id]
		if !ok {
			help = id.String() + " events."
		}
		c.counters[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.String()+"_total"),
			help, nil, nil,
		)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, id := range authgate.CounterIDs() {
		ch <- c.counters[id]
	}
	ch <- c.latency
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	for _, id := range authgate.CounterIDs() {
		ch <- prometheus.MustNewConstMetric(c.counters[id], prometheus.CounterValue, float64(snap.Counters[id]))
	}

	if raw, ok := snap.Histograms[authgate.MetricValidateLatency]; ok {
		count, buckets := cumulative(raw)
		// Snapshots keep no sum; zero keeps the series shape valid.
		ch <- prometheus.MustNewConstHistogram(c.latency, count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// cumulative converts per-bucket counts into Prometheus's cumulative
// upper-bound form. The final unbounded bucket only contributes to count.
func cumulative(raw []uint64) (uint64, map[float64]uint64) {
	buckets := make(map[float64]uint64, len(authgate.HistogramBounds))
	var running uint64
	for i, bound := range authgate.HistogramBounds {
		if i < len(raw) {
			running += raw[i]
		}
		buckets[bound.Seconds()] = running
	}
	for i := len(authgate.HistogramBounds); i < len(raw); i++ {
		running += raw[i]
	}
	return running, buckets
}
