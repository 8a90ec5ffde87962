package cpureader

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
)

const cpuPolicyDirectory = "/sys/devices/system/cpu/cpufreq"

// maxFrequenciesPerPolicy bounds time_in_state parsing; a policy reporting
// more rows than this indicates a malformed file.
const maxFrequenciesPerPolicy = 500

// CpuFrequencyReader computes recent per-policy average frequencies from the
// cpufreq time_in_state accounting. It is the sysfs-based counterpart to
// KernelCpuFeatureReader's weighted-frequency counters.
type CpuFrequencyReader struct {
	fs  fsys.Filesystem
	log logr.Logger

	policyIDs           []uint32
	previousFrequencies map[uint32]map[uint64]time.Duration
}

func NewCpuFrequencyReader(fs fsys.Filesystem, log logr.Logger) *CpuFrequencyReader {
	return &CpuFrequencyReader{fs: fs, log: log}
}

func (r *CpuFrequencyReader) Init() error {
	policyIDs, err := r.readPolicyIDs()
	if err != nil {
		return err
	}
	r.policyIDs = policyIDs
	frequencies, err := r.readPolicyFrequencies()
	if err != nil {
		return err
	}
	r.previousFrequencies = frequencies
	return nil
}

// GetRecentCpuPolicyFrequencies returns the time-weighted average frequency
// of each policy since the previous read, ordered by ascending policy id. A
// frequency or policy that disappeared from the accounting is an error.
func (r *CpuFrequencyReader) GetRecentCpuPolicyFrequencies() ([]PolicyAverageFrequency, error) {
	frequencies, err := r.readPolicyFrequencies()
	if err != nil {
		return nil, err
	}
	result := make([]PolicyAverageFrequency, 0, len(r.policyIDs))
	for _, policyID := range r.policyIDs {
		policyFrequencies := frequencies[policyID]
		previousPolicyFrequencies, ok := r.previousFrequencies[policyID]
		if !ok {
			return nil, fmt.Errorf("couldn't find policy %d in previous frequencies", policyID)
		}
		var weightedFrequenciesSumHz uint64
		var timeSum time.Duration
		for frequencyHz, timeInState := range policyFrequencies {
			previousTime, ok := previousPolicyFrequencies[frequencyHz]
			if !ok {
				return nil, fmt.Errorf("couldn't find frequency %d in previous frequencies", frequencyHz)
			}
			recentTime := timeInState - previousTime
			weightedFrequenciesSumHz += frequencyHz * uint64(recentTime.Milliseconds())
			timeSum += recentTime
		}
		var averageFrequencyHz uint64
		if timeSum != 0 {
			averageFrequencyHz = weightedFrequenciesSumHz / uint64(timeSum.Milliseconds())
		}
		result = append(result, PolicyAverageFrequency{
			PolicyID:           policyID,
			AverageFrequencyHz: averageFrequencyHz,
		})
	}
	r.previousFrequencies = frequencies
	return result, nil
}

func (r *CpuFrequencyReader) readPolicyFrequencies() (map[uint32]map[uint64]time.Duration, error) {
	result := make(map[uint32]map[uint64]time.Duration)
	for _, policyID := range r.policyIDs {
		path := fmt.Sprintf("%s/policy%d/stats/time_in_state", cpuPolicyDirectory, policyID)
		data, err := r.fs.ReadFile(path)
		if err != nil {
			return nil, err
		}
		frequencies := make(map[uint64]time.Duration)
		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}
			// time_in_state reports times in 10s of milliseconds, see
			// Documentation/cpu-freq/cpufreq-stats.txt.
			var frequencyHz, time10Ms uint64
			if n, err := fmt.Sscanf(line, "%d %d", &frequencyHz, &time10Ms); err != nil || n != 2 {
				return nil, fmt.Errorf("failed to parse time_in_state line: %q", line)
			}
			frequencies[frequencyHz] = time.Duration(time10Ms) * 10 * time.Millisecond
		}
		if len(frequencies) > maxFrequenciesPerPolicy {
			return nil, fmt.Errorf("found %d frequencies for policy %d, aborting", len(frequencies), policyID)
		}
		result[policyID] = frequencies
	}
	return result, nil
}

func (r *CpuFrequencyReader) readPolicyIDs() ([]uint32, error) {
	entries, err := r.fs.ListDirectory(cpuPolicyDirectory)
	if err != nil {
		return nil, err
	}
	var policyIDs []uint32
	for _, entry := range entries {
		var policyID uint32
		if n, err := fmt.Sscanf(entry, "policy%d", &policyID); err != nil || n != 1 {
			continue
		}
		policyIDs = append(policyIDs, policyID)
	}
	// Sorted so GetRecentCpuPolicyFrequencies always returns results ordered
	// by policy id.
	sort.Slice(policyIDs, func(i, j int) bool { return policyIDs[i] < policyIDs[j] })
	return policyIDs, nil
}

func (r *CpuFrequencyReader) DumpToStream(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "CPU frequencies from time_in_state:\n"); err != nil {
		return err
	}
	for _, policyID := range r.policyIDs {
		var timeSum time.Duration
		for _, timeInState := range r.previousFrequencies[policyID] {
			timeSum += timeInState
		}
		if _, err := fmt.Fprintf(w, "- policy%d: frequencies=%d, totalTime=%dms\n",
			policyID, len(r.previousFrequencies[policyID]), timeSum.Milliseconds()); err != nil {
			return err
		}
	}
	return nil
}
