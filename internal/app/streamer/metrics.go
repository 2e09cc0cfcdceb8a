package streamer

import "github.com/matchday/livescore/internal/platform/metrics"

var (
	activeViewers = metrics.NewGauge(metrics.Opts{
		Name: "livescore_streamer_viewers",
		Help: "Open viewer subscriptions across all matches.",
	})
	droppedTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_streamer_dropped_updates_total",
		Help: "Updates dropped because a viewer buffer was full.",
	}, []string{"kind"})
)

func init() {
	metrics.Default.MustRegister(activeViewers, droppedTotal)
}
