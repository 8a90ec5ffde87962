package monitoring

import (
	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/stats"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/throttle"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "adaptivecpu"

	LogTopName     string = "monitoring"
	statsSubsystem string = "stats"
	logNameKey     string = "name"
	decisionLabel  string = "decision"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newAgentCollector is a factory of prometheus Collectors for scalar agent
// metrics derived from a stats snapshot.
// snapshotFunc captures a consistent view of the counters per scrape.
// readFunc extracts the metric value from that view.
func newAgentCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	snapshotFunc func() stats.Snapshot, readFunc func(stats.Snapshot) T, log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, nil, nil)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus")
			ch <- prom.MustNewConstMetric(desc, metricType, float64(readFunc(snapshotFunc())))
		},
	}
}

// newPerDecisionCollector is a factory of prometheus Collectors for metrics
// labelled by throttle decision. Decisions are labelled by their wire
// integer, which unlike the pretty-printer is total over the enum.
func newPerDecisionCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	snapshotFunc func() stats.Snapshot, readFunc func(stats.Snapshot, throttle.Decision) T, log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, []string{decisionLabel}, nil)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus")
			snapshot := snapshotFunc()
			for _, decision := range throttle.All() {
				ch <- prom.MustNewConstMetric(
					desc,
					metricType,
					float64(readFunc(snapshot, decision)),
					throttle.FormatDecisions([]throttle.Decision{decision}),
				)
			}
		},
	}
}
