package cpureader

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/testutils"
)

func encodeStats(stats [NumCPUCores]AcpuStats) []byte {
	buffer := make([]byte, statsReadBufferSize)
	for i, record := range stats {
		binary.NativeEndian.PutUint64(buffer[i*acpuStatsSize:], record.WeightedSumFreq)
		binary.NativeEndian.PutUint64(buffer[i*acpuStatsSize+8:], record.TotalIdleTimeNanos)
	}
	return buffer
}

func uniformStats(weightedSumFreq, totalIdleTime uint64) [NumCPUCores]AcpuStats {
	var stats [NumCPUCores]AcpuStats
	for i := range stats {
		stats[i] = AcpuStats{WeightedSumFreq: weightedSumFreq, TotalIdleTimeNanos: totalIdleTime}
	}
	return stats
}

func newTestReader(t *testing.T, ts *testutils.FakeTimeSource, contents ...[]byte) *KernelCpuFeatureReader {
	t.Helper()
	fs := testutils.NewFakeFilesystem()
	fs.StreamContents["/proc/vendor_sched/acpu_stats"] = contents
	reader := NewKernelCpuFeatureReader(fs, ts, logr.Discard())
	assert.Nil(t, reader.Init())
	return reader
}

func TestGetRecentCpuFeaturesDeltas(t *testing.T) {
	ts := testutils.NewFakeTimeSource(0, 100*time.Nanosecond)
	reader := newTestReader(t, ts,
		encodeStats(uniformStats(100, 100)),
		encodeStats(uniformStats(200, 150)),
	)

	ts.SetKernelTime(200 * time.Nanosecond)
	frequencies, idleTimes, err := reader.GetRecentCpuFeatures()
	assert.Nil(t, err)
	for i := 0; i < NumCPUPolicies; i++ {
		assert.Equal(t, 1.0, frequencies[i])
	}
	for i := 0; i < NumCPUCores; i++ {
		assert.Equal(t, 0.5, idleTimes[i])
	}
}

func TestGetRecentCpuFeaturesCounterRegression(t *testing.T) {
	ts := testutils.NewFakeTimeSource(0, 100*time.Nanosecond)
	reader := newTestReader(t, ts,
		encodeStats(uniformStats(200, 200)),
		encodeStats(uniformStats(100, 100)),
	)

	ts.SetKernelTime(200 * time.Nanosecond)
	frequencies, idleTimes, err := reader.GetRecentCpuFeatures()
	assert.Nil(t, err)
	for i := 0; i < NumCPUPolicies; i++ {
		assert.Equal(t, 0.0, frequencies[i])
	}
	for i := 0; i < NumCPUCores; i++ {
		assert.Equal(t, 0.0, idleTimes[i])
	}
}

func TestGetRecentCpuFeaturesIdleCanExceedOne(t *testing.T) {
	ts := testutils.NewFakeTimeSource(0, 100*time.Nanosecond)
	reader := newTestReader(t, ts,
		encodeStats(uniformStats(0, 0)),
		encodeStats(uniformStats(0, 150)),
	)

	// The idle counter advanced more than the clock; the primary reader
	// reports the raw fraction without capping.
	ts.SetKernelTime(200 * time.Nanosecond)
	_, idleTimes, err := reader.GetRecentCpuFeatures()
	assert.Nil(t, err)
	assert.Equal(t, 1.5, idleTimes[0])
}

func TestInitFailsOnShortRead(t *testing.T) {
	fs := testutils.NewFakeFilesystem()
	fs.StreamContents["/proc/vendor_sched/acpu_stats"] = [][]byte{make([]byte, statsReadBufferSize-1)}
	reader := NewKernelCpuFeatureReader(fs, testutils.NewFakeTimeSource(0, 0), logr.Discard())
	assert.NotNil(t, reader.Init())
}

func TestInitFailsOnMissingFile(t *testing.T) {
	fs := testutils.NewFakeFilesystem()
	reader := NewKernelCpuFeatureReader(fs, testutils.NewFakeTimeSource(0, 0), logr.Discard())
	assert.NotNil(t, reader.Init())
}

func TestGetRecentCpuFeaturesFailsOnShortRead(t *testing.T) {
	ts := testutils.NewFakeTimeSource(0, 100*time.Nanosecond)
	reader := newTestReader(t, ts,
		encodeStats(uniformStats(100, 100)),
		make([]byte, statsReadBufferSize/2),
	)

	ts.SetKernelTime(200 * time.Nanosecond)
	_, _, err := reader.GetRecentCpuFeatures()
	assert.NotNil(t, err)
}

func TestDumpToStream(t *testing.T) {
	ts := testutils.NewFakeTimeSource(0, 100*time.Nanosecond)
	reader := newTestReader(t, ts, encodeStats(uniformStats(42, 7)))

	var report strings.Builder
	assert.Nil(t, reader.DumpToStream(&report))
	assert.Contains(t, report.String(), "CPU features from acpu_stats:")
	assert.Contains(t, report.String(), "- CPU 0: weighted_sum_freq=42, total_idle_time_ns=7")
	assert.Contains(t, report.String(), "- Last read time: 100ns")
}
