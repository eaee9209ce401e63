package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Wagers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horse_wager_wagers_total",
			Help: "Settled wagers by outcome",
		},
		[]string{"outcome"},
	)

	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horse_wager_errors_total",
			Help: "Rejected or failed wagers by error class",
		},
		[]string{"class"},
	)

	Points = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horse_wager_points_total",
			Help: "Points moved through the ledger",
		},
		[]string{"direction"},
	)

	Probability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "horse_wager_probability",
			Help:    "Effective win probability at decision time",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		},
	)

	SettleRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "horse_wager_settle_retries_total",
			Help: "Settlement attempts retried after a storage error",
		},
	)

	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "horse_wager_publish_failures_total",
			Help: "Event publications that failed or timed out",
		},
	)
)

// Registry holds every collector above plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(Wagers, Errors, Points, Probability, SettleRetries, PublishFailures)
	Registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

func ObserveSettlement(won bool, stake, payout int64, p float64) {
	outcome := "loss"
	if won {
		outcome = "win"
	}
	Wagers.WithLabelValues(outcome).Inc()
	Points.WithLabelValues("staked").Add(float64(stake))
	Points.WithLabelValues("paid").Add(float64(payout))
	Probability.Observe(p)
}

func ObserveDeposit(amount int64) {
	Points.WithLabelValues("deposited").Add(float64(amount))
}
