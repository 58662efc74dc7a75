package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignInAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_signin_attempts_total",
		Help: "Total number of sign-in attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	SignUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passgate_signups_total",
		Help: "Total number of user registrations.",
	})
	PasskeyCeremonies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_passkey_ceremonies_total",
		Help: "Total number of passkey ceremonies by action and outcome.",
	}, []string{"action", "outcome"})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passgate_active_sessions",
		Help: "Number of sessions currently stored.",
	})
	MagicLinksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passgate_magic_links_sent_total",
		Help: "Total number of sign-in links emailed.",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passgate_rate_limited_total",
		Help: "Total number of sign-in attempts rejected by rate limiting.",
	})
	CSRFRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passgate_csrf_rejections_total",
		Help: "Total number of requests rejected by CSRF validation.",
	})
	CleanupRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passgate_cleanup_runs_total",
		Help: "Total number of expiry janitor runs.",
	})
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "passgate_request_duration_seconds",
		Help:    "Duration of authentication HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
