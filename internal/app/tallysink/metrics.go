package tallysink

import "github.com/matchday/livescore/internal/platform/metrics"

var (
	projectionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_tally_projections_total",
		Help: "Tally projections written, by result (applied or stale).",
	}, []string{"result"})
	deliveriesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_tally_sink_rejected_deliveries_total",
		Help: "Notice deliveries not acked, by disposition.",
	}, []string{"disposition"})
)

func init() {
	metrics.Default.MustRegister(projectionsTotal, deliveriesTotal)
}
