package cpureader

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/timesource"
)

const kernelStatsFilePath = "/proc/vendor_sched/acpu_stats"

// acpuStatsSize is the packed byte size of one AcpuStats record.
const acpuStatsSize = 16

const statsReadBufferSize = acpuStatsSize * NumCPUCores

// AcpuStats is the kernel<->userspace ABI for CPU features. The kernel
// reports one record per CPU, packed, in host byte order.
type AcpuStats struct {
	// WeightedSumFreq is the sum of the frequencies the CPU ran at,
	// multiplied by the time spent at each frequency, in ns*kHz. The average
	// frequency between two samples is
	//   (new.WeightedSumFreq - old.WeightedSumFreq) / elapsed_ns.
	WeightedSumFreq uint64
	// TotalIdleTimeNanos is the total time the CPU was idle. The idle
	// fraction between two samples is
	//   (new.TotalIdleTimeNanos - old.TotalIdleTimeNanos) / elapsed_ns.
	TotalIdleTimeNanos uint64
}

// KernelCpuFeatureReader reads acpu_stats and converts the cumulative
// counters into recent-window features. The stats file is opened once and
// rewound between reads; reopening per read doubles the read cost.
type KernelCpuFeatureReader struct {
	fs   fsys.Filesystem
	time timesource.TimeSource
	log  logr.Logger

	statsFile        fsys.FileStream
	previousStats    [NumCPUCores]AcpuStats
	previousReadTime time.Duration
}

func NewKernelCpuFeatureReader(fs fsys.Filesystem, ts timesource.TimeSource, log logr.Logger) *KernelCpuFeatureReader {
	return &KernelCpuFeatureReader{fs: fs, time: ts, log: log}
}

// Init opens the stats file and captures the baseline sample.
func (r *KernelCpuFeatureReader) Init() error {
	file, err := r.fs.OpenFileStream(kernelStatsFilePath)
	if err != nil {
		return err
	}
	r.statsFile = file
	return r.readStats(&r.previousStats, &r.previousReadTime)
}

// GetRecentCpuFeatures returns the per-policy average frequency and per-core
// idle fraction since the previous read. A kernel counter that went
// backwards is clamped up to the new value, producing a zero delta. Idle
// fractions can slightly exceed 1.0 as the read time and the kernel counters
// come from different clock queries; they are reported uncapped.
func (r *KernelCpuFeatureReader) GetRecentCpuFeatures() (
	policyAverageFrequencyHz [NumCPUPolicies]float64,
	coreIdleTimesFraction [NumCPUCores]float64,
	err error,
) {
	var stats [NumCPUCores]AcpuStats
	var readTime time.Duration
	if err := r.readStats(&stats, &readTime); err != nil {
		return policyAverageFrequencyHz, coreIdleTimesFraction, err
	}
	timeDelta := readTime - r.previousReadTime

	for i, statsIdx := range PolicyIndices {
		if stats[statsIdx].WeightedSumFreq < r.previousStats[statsIdx].WeightedSumFreq {
			r.log.Info("New weighted_sum_freq is less than old",
				"new", stats[statsIdx].WeightedSumFreq,
				"old", r.previousStats[statsIdx].WeightedSumFreq)
			r.previousStats[statsIdx].WeightedSumFreq = stats[statsIdx].WeightedSumFreq
		}
		policyAverageFrequencyHz[i] =
			float64(stats[statsIdx].WeightedSumFreq-r.previousStats[statsIdx].WeightedSumFreq) /
				float64(timeDelta.Nanoseconds())
	}
	for i := 0; i < NumCPUCores; i++ {
		if stats[i].TotalIdleTimeNanos < r.previousStats[i].TotalIdleTimeNanos {
			r.log.Info("New total_idle_time_ns is less than old",
				"new", stats[i].TotalIdleTimeNanos,
				"old", r.previousStats[i].TotalIdleTimeNanos)
			r.previousStats[i].TotalIdleTimeNanos = stats[i].TotalIdleTimeNanos
		}
		coreIdleTimesFraction[i] =
			float64(stats[i].TotalIdleTimeNanos-r.previousStats[i].TotalIdleTimeNanos) /
				float64(timeDelta.Nanoseconds())
	}

	r.previousStats = stats
	r.previousReadTime = readTime
	return policyAverageFrequencyHz, coreIdleTimesFraction, nil
}

func (r *KernelCpuFeatureReader) readStats(stats *[NumCPUCores]AcpuStats, readTime *time.Duration) error {
	*readTime = r.time.KernelTime()
	if err := r.statsFile.Rewind(); err != nil {
		return err
	}
	buffer := make([]byte, statsReadBufferSize)
	if _, err := io.ReadFull(r.statsFile, buffer); err != nil {
		return fmt.Errorf("failed to read full stats file, expected %d bytes: %w", statsReadBufferSize, err)
	}
	for i := 0; i < NumCPUCores; i++ {
		record := buffer[i*acpuStatsSize:]
		stats[i] = AcpuStats{
			WeightedSumFreq:    binary.NativeEndian.Uint64(record),
			TotalIdleTimeNanos: binary.NativeEndian.Uint64(record[8:]),
		}
	}
	return nil
}

// DumpToStream writes the previous sample for diagnostics.
func (r *KernelCpuFeatureReader) DumpToStream(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "CPU features from acpu_stats:\n"); err != nil {
		return err
	}
	for i := 0; i < NumCPUCores; i++ {
		if _, err := fmt.Fprintf(w, "- CPU %d: weighted_sum_freq=%d, total_idle_time_ns=%d\n",
			i, r.previousStats[i].WeightedSumFreq, r.previousStats[i].TotalIdleTimeNanos); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "- Last read time: %dns\n", r.previousReadTime.Nanoseconds())
	return err
}
