package monitoring

import (
	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/stats"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
)

// RegisterStatsCollectors registers collectors over the control loop's stats
// counters with the given registry.
func RegisterStatsCollectors(registry prom.Registerer, st *stats.Stats, logger logr.Logger) {
	logger = logger.WithName(statsSubsystem)

	registry.MustRegister(
		newAgentCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "runs_started_total"),
			"Counter of started control loop runs",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot) uint64 { return s.NumStartedRuns },
			logger.WithValues(logNameKey, "runs_started_total"),
		),
		newAgentCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "runs_succeeded_total"),
			"Counter of successful control loop runs",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot) uint64 { return s.NumSuccessfulRuns },
			logger.WithValues(logNameKey, "runs_succeeded_total"),
		),
		newAgentCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "run_duration_seconds_total"),
			"Counter of time spent inside control loop runs",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot) float64 { return s.TotalRunDuration.Seconds() },
			logger.WithValues(logNameKey, "run_duration_seconds_total"),
		),
		newPerDecisionCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "throttles_total"),
			"Counter of throttle decisions, by decision",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot, d throttle.Decision) uint64 { return s.NumThrottles[d] },
			logger.WithValues(logNameKey, "throttles_total"),
		),
		newPerDecisionCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "throttle_hold_seconds_total"),
			"Counter of time spent holding each throttle decision",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot, d throttle.Decision) float64 {
				return s.ThrottleDurations[d].Seconds()
			},
			logger.WithValues(logNameKey, "throttle_hold_seconds_total"),
		),
		newPerDecisionCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "work_durations_total"),
			"Counter of work durations attributed to each throttle decision",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot, d throttle.Decision) uint64 { return s.NumDurations[d] },
			logger.WithValues(logNameKey, "work_durations_total"),
		),
		newPerDecisionCollector(
			prom.BuildFQName(promNamespace, statsSubsystem, "missed_deadlines_total"),
			"Counter of missed deadlines attributed to each throttle decision",
			prom.CounterValue,
			st.Snapshot,
			func(s stats.Snapshot, d throttle.Decision) uint64 { return s.NumMissedDeadlines[d] },
			logger.WithValues(logNameKey, "missed_deadlines_total"),
		),
	)
}
