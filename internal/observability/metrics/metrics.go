package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"service", "result"},
	)

	LockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Lockouts triggered by the login throttle.",
		},
		[]string{"service", "dimension"},
	)

	SessionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Sessions issued, by flow.",
		},
		[]string{"service", "flow"},
	)

	SessionsRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Sessions revoked, by reason.",
		},
		[]string{"service", "reason"},
	)

	SessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_evicted_total",
			Help: "Sessions evicted by the per-user concurrent cap.",
		},
	)

	RequestsThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traffic_requests_throttled_total",
			Help: "Requests rejected by the traffic rate limiter.",
		},
		[]string{"service", "window"},
	)

	SignatureMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuse_signature_matches_total",
			Help: "Requests rejected by the abuse signature filter.",
		},
		[]string{"service", "category"},
	)

	CSRFRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_rejections_total",
			Help: "Requests rejected by the CSRF guard.",
		},
		[]string{"service"},
	)

	SweeperDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_rows_deleted_total",
			Help: "Rows purged by the retention sweeper.",
		},
		[]string{"service", "table"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	LoginsTotal = LoginsTotal.MustCurryWith(labels)
	LockoutsTotal = LockoutsTotal.MustCurryWith(labels)
	SessionsIssuedTotal = SessionsIssuedTotal.MustCurryWith(labels)
	SessionsRevokedTotal = SessionsRevokedTotal.MustCurryWith(labels)
	RequestsThrottledTotal = RequestsThrottledTotal.MustCurryWith(labels)
	SignatureMatchesTotal = SignatureMatchesTotal.MustCurryWith(labels)
	CSRFRejectionsTotal = CSRFRejectionsTotal.MustCurryWith(labels)
	SweeperDeletedTotal = SweeperDeletedTotal.MustCurryWith(labels)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		LoginsTotal,
		LockoutsTotal,
		SessionsIssuedTotal,
		SessionsRevokedTotal,
		SessionsEvictedTotal,
		RequestsThrottledTotal,
		SignatureMatchesTotal,
		CSRFRejectionsTotal,
		SweeperDeletedTotal,
	)
}
