// Package metrics exposes the Prometheus instruments for the custody ledger.
// Everything is registered on the default registry and served at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_http_requests_total",
			Help: "Total number of HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custody_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Authorization Metrics
	AuthzDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_authz_denied_total",
			Help: "Total number of authorization denials (for alerting)",
		},
		[]string{"role", "object", "action"},
	)

	LoginFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custody_login_failures_total",
			Help: "Total number of rejected login attempts",
		},
	)

	// Ledger Metrics
	AuditWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_audit_write_failures_total",
			Help: "Audit rows that could not be written; the parent operation still succeeded",
		},
		[]string{"action"},
	)

	CustodyAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_chain_appends_total",
			Help: "Custody entries appended, by action",
		},
		[]string{"action"},
	)

	CustodyVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_chain_verifications_total",
			Help: "Custody chain verifications by outcome",
		},
		[]string{"result"}, // "ok" | "broken"
	)

	// Integrity Metrics
	MerkleLeaves = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custody_merkle_leaves",
			Help: "Evidence hashes in the current Merkle tree",
		},
	)

	MerkleRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_merkle_rebuilds_total",
			Help: "Merkle tree rebuilds by outcome",
		},
		[]string{"result"}, // "success" | "error"
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordDenied records an authorization denial.
func RecordDenied(role, object, action string) {
	AuthzDeniedTotal.WithLabelValues(role, object, action).Inc()
}

// RecordCustodyVerification records the outcome of a chain verification.
func RecordCustodyVerification(ok bool) {
	result := "broken"
	if ok {
		result = "ok"
	}
	CustodyVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordMerkleRebuild records a tree rebuild and the resulting leaf count.
func RecordMerkleRebuild(leaves int, err error) {
	if err != nil {
		MerkleRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	MerkleRebuildsTotal.WithLabelValues("success").Inc()
	MerkleLeaves.Set(float64(leaves))
}
