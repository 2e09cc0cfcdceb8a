package matchsync

import "github.com/matchday/livescore/internal/platform/metrics"

var (
	appendsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_ledger_appends_total",
		Help: "Ledger appends by event type and outcome (inserted or duplicate).",
	}, []string{"type", "outcome"})
	adjustmentsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_score_adjustments_total",
		Help: "Manual score adjustments by outcome.",
	}, []string{"outcome"})
	timerCommandsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_timer_commands_total",
		Help: "Timer commands by command and result.",
	}, []string{"command", "result"})
	publishFailuresTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_notice_publish_failures_total",
		Help: "Change notices that could not be published.",
	}, []string{"kind"})
	skippedTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_projection_skipped_events_total",
		Help: "Ledger entries of unknown type excluded from a projection.",
	}, nil)
)

func init() {
	metrics.Default.MustRegister(appendsTotal, adjustmentsTotal, timerCommandsTotal, publishFailuresTotal, skippedTotal)
}
