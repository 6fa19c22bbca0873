package partition

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics are the operator-facing counters/gauges a partition runtime
// exposes over /metrics (SUPPLEMENTED FEATURES: "Metrics"). None of them
// feed back into the deterministic command-processing path — they are
// pure observation.
type Metrics struct {
	CommandsProcessed *prometheus.CounterVec
	RejectionsByKind  *prometheus.CounterVec
	PendingAcks       prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in a running process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partitiond_commands_processed_total",
			Help: "Commands processed by the deletion processor, by intent and outcome.",
		}, []string{"intent", "outcome"}),
		RejectionsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partitiond_rejections_total",
			Help: "Rejections written to the log, by rejection kind.",
		}, []string{"kind"}),
		PendingAcks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "partitiond_pending_acks",
			Help: "Commands distributed to peers that have not yet been fully acknowledged.",
		}),
	}
}

// startMetricsServer binds addr and serves prometheus.DefaultGatherer at
// /metrics in the background, matching the collectors NewMetrics registers
// against prometheus.DefaultRegisterer. Listen failures are logged rather
// than returned: a dead metrics endpoint should not stop the partition from
// processing commands.
func startMetricsServer(addr string, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("address", addr).Error("metrics server stopped")
		}
	}()
	return srv
}
