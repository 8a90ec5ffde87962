package cpureader

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/testutils"
)

func frequencyFilesystem(timeInState map[uint32]string) *testutils.FakeFilesystem {
	fs := testutils.NewFakeFilesystem()
	entries := []string{"boost", "ondemand"}
	for policyID, content := range timeInState {
		entries = append(entries, fmt.Sprintf("policy%d", policyID))
		path := fmt.Sprintf("/sys/devices/system/cpu/cpufreq/policy%d/stats/time_in_state", policyID)
		fs.Files[path] = []byte(content)
	}
	fs.Dirs["/sys/devices/system/cpu/cpufreq"] = entries
	return fs
}

func TestFrequencyReaderAverages(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{
		0: "300000 100\n574000 0\n",
		4: "400000 0\n2400000 0\n",
	})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.Nil(t, reader.Init())

	// policy0 spends 1s at 300MHz and 1s at 574MHz; policy4 spends 2s at
	// 2.4GHz.
	fs.Files["/sys/devices/system/cpu/cpufreq/policy0/stats/time_in_state"] =
		[]byte("300000 200\n574000 100\n")
	fs.Files["/sys/devices/system/cpu/cpufreq/policy4/stats/time_in_state"] =
		[]byte("400000 0\n2400000 200\n")
	frequencies, err := reader.GetRecentCpuPolicyFrequencies()
	assert.Nil(t, err)
	assert.Equal(t, []PolicyAverageFrequency{
		{PolicyID: 0, AverageFrequencyHz: (300000 + 574000) / 2},
		{PolicyID: 4, AverageFrequencyHz: 2400000},
	}, frequencies)
}

func TestFrequencyReaderZeroTimeDelta(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{0: "300000 100\n"})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.Nil(t, reader.Init())

	frequencies, err := reader.GetRecentCpuPolicyFrequencies()
	assert.Nil(t, err)
	assert.Equal(t, []PolicyAverageFrequency{{PolicyID: 0, AverageFrequencyHz: 0}}, frequencies)
}

func TestFrequencyReaderResultsSortedByPolicyID(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{
		6: "100000 0\n",
		0: "100000 0\n",
		4: "100000 0\n",
	})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.Nil(t, reader.Init())

	frequencies, err := reader.GetRecentCpuPolicyFrequencies()
	assert.Nil(t, err)
	assert.Len(t, frequencies, 3)
	assert.Equal(t, uint32(0), frequencies[0].PolicyID)
	assert.Equal(t, uint32(4), frequencies[1].PolicyID)
	assert.Equal(t, uint32(6), frequencies[2].PolicyID)
}

func TestFrequencyReaderFailsOnNewFrequency(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{0: "300000 100\n"})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.Nil(t, reader.Init())

	fs.Files["/sys/devices/system/cpu/cpufreq/policy0/stats/time_in_state"] =
		[]byte("300000 100\n574000 100\n")
	_, err := reader.GetRecentCpuPolicyFrequencies()
	assert.NotNil(t, err)
}

func TestFrequencyReaderFailsOnMalformedLine(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{0: "300000 garbage\n"})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.NotNil(t, reader.Init())
}

func TestFrequencyReaderDumpToStream(t *testing.T) {
	fs := frequencyFilesystem(map[uint32]string{0: "300000 100\n"})
	reader := NewCpuFrequencyReader(fs, logr.Discard())
	assert.Nil(t, reader.Init())

	var report strings.Builder
	assert.Nil(t, reader.DumpToStream(&report))
	assert.Contains(t, report.String(), "CPU frequencies from time_in_state:")
	assert.Contains(t, report.String(), "- policy0: frequencies=1, totalTime=1000ms")
}
