package cpureader

import "io"

// The agent targets a fixed 8-core, 3-policy topology, so the architecture
// constants are hardcoded. Extending to other SoCs would make these
// per-device or dynamically discovered.
const (
	NumCPUCores    = 8
	NumCPUPolicies = 3
)

// PolicyIndices holds the index of the first core in each frequency policy.
// All cores within a policy report equivalent frequency data, so only the
// first is read.
var PolicyIndices = [NumCPUPolicies]int{0, 4, 6}

// PolicyAverageFrequency is the recent average frequency of one policy.
type PolicyAverageFrequency struct {
	PolicyID           uint32
	AverageFrequencyHz uint64
}

// LoadReader yields recent per-core idle fractions. Two implementations
// exist as fallbacks for kernels without acpu_stats: one over /proc/stat and
// one over /sys/devices/system/cpu/*/cpuidle.
type LoadReader interface {
	Init() error
	GetRecentCpuLoads() ([NumCPUCores]float64, error)
	DumpToStream(w io.Writer) error
}

var (
	_ LoadReader = (*ProcStatLoadReader)(nil)
	_ LoadReader = (*SysDevicesLoadReader)(nil)
)
