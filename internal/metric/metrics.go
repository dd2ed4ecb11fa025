package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LinkingStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linking_sessions_started_total",
		Help: "Linking sessions issued or regenerated, by channel.",
	}, []string{"channel"})

	VerificationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linking_verification_results_total",
		Help: "Verification attempt outcomes, by channel and result.",
	}, []string{"channel", "result"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linking_delivery_failures_total",
		Help: "Code delivery failures, by channel.",
	}, []string{"channel"})

	ExpiredSessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linking_expired_sessions_swept_total",
		Help: "Abandoned sessions removed by the cleanup sweep.",
	})
)

// Result label values for VerificationResults.
const (
	ResultVerified = "verified"
	ResultMismatch = "mismatch"
	ResultExpired  = "expired"
	ResultLocked   = "locked"
)
