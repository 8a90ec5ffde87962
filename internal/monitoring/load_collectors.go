package monitoring

import (
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/cpureader"
)

const loadSubsystem = "load"

// RegisterLoadCollectors registers a per-core idle fraction gauge backed by
// a CPU load reader. Each scrape reports the idle fraction since the
// previous scrape; scrape failures leave the metric absent for that round.
func RegisterLoadCollectors(registry prom.Registerer, reader cpureader.LoadReader, logger logr.Logger) {
	logger = logger.WithName(loadSubsystem)

	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, loadSubsystem, "cpu_idle_fraction"),
		"Gauge of per-core idle time fraction since the previous scrape",
		[]string{"cpu"},
		nil,
	)

	registry.MustRegister(collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			logger.V(5).Info("Collecting metrics for prometheus")
			loads, err := reader.GetRecentCpuLoads()
			if err != nil {
				logger.V(5).Info("error reading CPU loads", "error", err.Error())
				return
			}
			for cpuID, load := range loads {
				ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, load, strconv.Itoa(cpuID))
			}
		},
	})
}

// RegisterFrequencyCollectors registers a per-policy average frequency gauge
// backed by the cpufreq time_in_state reader.
func RegisterFrequencyCollectors(registry prom.Registerer, reader *cpureader.CpuFrequencyReader, logger logr.Logger) {
	logger = logger.WithName(loadSubsystem)

	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, loadSubsystem, "policy_average_frequency_hz"),
		"Gauge of per-policy average CPU frequency since the previous scrape",
		[]string{"policy"},
		nil,
	)

	registry.MustRegister(collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			logger.V(5).Info("Collecting metrics for prometheus")
			frequencies, err := reader.GetRecentCpuPolicyFrequencies()
			if err != nil {
				logger.V(5).Info("error reading CPU policy frequencies", "error", err.Error())
				return
			}
			for _, frequency := range frequencies {
				ch <- prom.MustNewConstMetric(desc, prom.GaugeValue,
					float64(frequency.AverageFrequencyHz),
					strconv.Itoa(int(frequency.PolicyID)))
			}
		},
	})
}
